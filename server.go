package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"

	"mangamirror/assetcache"
	"mangamirror/cache"
	"mangamirror/config"
	"mangamirror/internal/heartbeat"
	"mangamirror/middleware"
	"mangamirror/ratelimit"
	"mangamirror/scrape"
)

// server owns the caches, the admission controller and the upstream
// fetcher, and maps HTTP routes onto them. All state is injected here
// so lifecycle and test isolation stay explicit.
type server struct {
	fetcher scrape.Fetcher

	manga  *cache.Cache[*scrape.Manga]
	latest *cache.Cache[[]scrape.UpdateEntry]
	hot    *cache.Cache[[]scrape.HotEntry]

	assets  *assetcache.Cache
	limiter *ratelimit.Limiter
	monitor *heartbeat.Monitor
}

// newServer wires a server from cfg. The caller must Close it.
func newServer(cfg *config.Config, fetcher scrape.Fetcher, monitor *heartbeat.Monitor) (*server, error) {
	assets, err := assetcache.New(cfg.AssetCache)
	if err != nil {
		return nil, fmt.Errorf("cannot create asset cache: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	limiter.OnReject = rateLimited.Inc

	ttl := time.Duration(cfg.ResultCache.TTL)
	return &server{
		fetcher: fetcher,
		manga:   cache.New[*scrape.Manga]("manga", ttl),
		latest:  cache.New[[]scrape.UpdateEntry]("latest", ttl),
		hot:     cache.New[[]scrape.HotEntry]("hot", ttl),
		assets:  assets,
		limiter: limiter,
		monitor: monitor,
	}, nil
}

func (s *server) Close() {
	s.manga.Close()
	s.latest.Close()
	s.hot.Close()
	s.assets.Close()
}

// handler builds the middleware chain around the API routes:
// real client address resolution, then CORS, then admission control,
// then response compression.
func (s *server) handler(proxyCfg config.Proxy) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/manga", s.instrument("manga", s.handleManga))
	mux.HandleFunc("/api/latest", s.instrument("latest", s.handleLatestUpdates))
	mux.HandleFunc("/api/hot", s.instrument("hot", s.handleHotManga))
	mux.HandleFunc("/image", s.instrument("image", s.handleImage))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleNotFound)

	var h http.Handler = gzhttp.GzipHandler(mux)
	h = s.limiter.Middleware(h)
	h = middleware.NewCORSMiddleware(h)
	h = middleware.NewProxyMiddleware(proxyCfg, h)
	return h
}

// instrument records response status codes and bytes written per route.
func (s *server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		srw := &statResponseWriter{
			ResponseWriter: rw,
			bytesWritten:   bytesWritten,
		}
		h(srw, r)
		if srw.statusCode == 0 {
			srw.statusCode = http.StatusOK
		}
		statusCodes.With(prometheus.Labels{
			"handler": name,
			"code":    strconv.Itoa(srw.statusCode),
		}).Inc()
	}
}
