package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mangamirror/assetcache"
	"mangamirror/log"
	"mangamirror/scrape"
)

// handleManga serves a full manga record by its slug.
// Upstream failures degrade to a null body so an aggregating client
// keeps whatever else it already has.
func (s *server) handleManga(rw http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest.Inc()
		respondError(rw, http.StatusBadRequest, "Missing id parameter")
		return
	}

	if m, ok := s.manga.Get(id); ok {
		cacheHits.WithLabelValues(s.manga.Name()).Inc()
		respondJSON(rw, m)
		return
	}
	cacheMisses.WithLabelValues(s.manga.Name()).Inc()

	m, err := s.manga.GetOrFetch(r.Context(), id, func(ctx context.Context) (*scrape.Manga, error) {
		return s.fetchManga(ctx, id)
	})
	if err != nil {
		log.Errorf("cannot fetch manga %q: %s", id, err)
		respondJSON(rw, nil)
		return
	}
	respondJSON(rw, m)
}

// handleLatestUpdates serves the latest-updates feed.
// Upstream failures degrade to an empty list.
func (s *server) handleLatestUpdates(rw http.ResponseWriter, r *http.Request) {
	const key = "latest"

	if updates, ok := s.latest.Get(key); ok {
		cacheHits.WithLabelValues(s.latest.Name()).Inc()
		respondJSON(rw, updates)
		return
	}
	cacheMisses.WithLabelValues(s.latest.Name()).Inc()

	updates, err := s.latest.GetOrFetch(r.Context(), key, s.fetchLatestUpdates)
	if err != nil {
		log.Errorf("cannot fetch latest updates: %s", err)
		respondJSON(rw, []scrape.UpdateEntry{})
		return
	}
	respondJSON(rw, updates)
}

// handleHotManga serves the featured list.
// Upstream failures degrade to an empty list.
func (s *server) handleHotManga(rw http.ResponseWriter, r *http.Request) {
	const key = "hot"

	if hot, ok := s.hot.Get(key); ok {
		cacheHits.WithLabelValues(s.hot.Name()).Inc()
		respondJSON(rw, hot)
		return
	}
	cacheMisses.WithLabelValues(s.hot.Name()).Inc()

	hot, err := s.hot.GetOrFetch(r.Context(), key, s.fetchHotManga)
	if err != nil {
		log.Errorf("cannot fetch hot manga: %s", err)
		respondJSON(rw, []scrape.HotEntry{})
		return
	}
	respondJSON(rw, hot)
}

// handleImage proxies a cover image, serving it from the asset cache
// when possible. The upstream is only hit on a cache miss; the fetched
// body is persisted before responding.
func (s *server) handleImage(rw http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		badRequest.Inc()
		respondError(rw, http.StatusBadRequest, "Missing url parameter")
		return
	}

	asset, err := s.assets.Open(u)
	if err == nil {
		cacheHits.WithLabelValues("asset").Inc()
		defer asset.Body.Close()
		sendAsset(rw, asset)
		return
	}
	if err != assetcache.ErrMissing {
		log.Errorf("cannot open cached asset for %q: %s", u, err)
	}
	cacheMisses.WithLabelValues("asset").Inc()

	img, err := s.fetchImage(r.Context(), u)
	if err != nil {
		log.Errorf("cannot fetch image %q: %s", u, err)
		respondError(rw, http.StatusBadGateway, "Failed to fetch image")
		return
	}

	// A store failure only loses the cache fill; the client still
	// gets the image.
	if err := s.assets.Store(u, img.ContentType, bytes.NewReader(img.Body)); err != nil {
		log.Errorf("cannot store asset for %q: %s", u, err)
	}

	if img.ContentType != "" {
		rw.Header().Set("Content-Type", img.ContentType)
	}
	rw.Header().Set("Content-Length", fmt.Sprintf("%d", len(img.Body)))
	rw.Write(img.Body)
}

// handleHealth reports the outcome of the last upstream probe.
func (s *server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	type health struct {
		Status      string `json:"status"`
		LastChecked string `json:"last_checked,omitempty"`
		Error       string `json:"error,omitempty"`
	}

	h := health{Status: "ok"}
	if s.monitor != nil {
		lastChecked, err := s.monitor.Status()
		if !lastChecked.IsZero() {
			h.LastChecked = lastChecked.UTC().Format(time.RFC3339)
		}
		if err != nil {
			h.Status = "upstream unreachable"
			h.Error = err.Error()
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(rw).Encode(h)
			return
		}
	}
	respondJSON(rw, h)
}

func (s *server) handleNotFound(rw http.ResponseWriter, r *http.Request) {
	badRequest.Inc()
	log.Debugf("unsupported path: %s", r.URL.Path)
	respondError(rw, http.StatusNotFound, fmt.Sprintf("Unsupported path: %s", r.URL.Path))
}

func (s *server) fetchManga(ctx context.Context, id string) (*scrape.Manga, error) {
	m, err := s.fetcher.FetchManga(ctx, id)
	countUpstreamFetch("manga", err)
	return m, err
}

func (s *server) fetchLatestUpdates(ctx context.Context) ([]scrape.UpdateEntry, error) {
	updates, err := s.fetcher.FetchLatestUpdates(ctx)
	countUpstreamFetch("latest", err)
	return updates, err
}

func (s *server) fetchHotManga(ctx context.Context) ([]scrape.HotEntry, error) {
	hot, err := s.fetcher.FetchHotManga(ctx)
	countUpstreamFetch("hot", err)
	return hot, err
}

func (s *server) fetchImage(ctx context.Context, u string) (*scrape.Image, error) {
	img, err := s.fetcher.FetchImage(ctx, u)
	countUpstreamFetch("image", err)
	return img, err
}

func countUpstreamFetch(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	upstreamFetch.WithLabelValues(kind, status).Inc()
}

func respondJSON(rw http.ResponseWriter, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Errorf("cannot send response to client: %s", err)
	}
}

func respondError(rw http.ResponseWriter, statusCode int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}

func sendAsset(rw http.ResponseWriter, asset *assetcache.Asset) {
	if asset.ContentType != "" {
		rw.Header().Set("Content-Type", asset.ContentType)
	}
	rw.Header().Set("Content-Length", fmt.Sprintf("%d", asset.Size))
	if _, err := io.Copy(rw, asset.Body); err != nil {
		log.Errorf("cannot send asset to client: %s", err)
	}
}
