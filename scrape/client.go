package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"mangamirror/config"
	"mangamirror/log"
)

const (
	// Presented to the origin when `user_agent` is not configured.
	// The origin throttles clients without a browser identity.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	acceptHTML  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptImage = "image/avif,image/webp,image/apng,*/*;q=0.8"

	// maxImageSize caps proxied asset bodies. Cover images are a few
	// hundred KB; anything bigger is not worth caching.
	maxImageSize = 20 << 20
)

// Client fetches and parses pages of the origin site.
type Client struct {
	baseURL   string
	userAgent string
	referer   string

	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Fetcher = &Client{}

// NewClient returns a client for the origin described by cfg.
func NewClient(cfg config.Upstream) *Client {
	c := &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		referer:   cfg.Referer,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout),
		},
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.referer == "" {
		c.referer = c.baseURL + "/"
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// FetchManga retrieves and parses a single manga page by its slug.
func (c *Client) FetchManga(ctx context.Context, id string) (*Manga, error) {
	doc, err := c.getDocument(ctx, c.baseURL+"/manga/"+id)
	if err != nil {
		return nil, err
	}

	m := &Manga{
		Title:       strings.TrimSpace(doc.Find(".manga-info-text h1").Text()),
		Cover:       doc.Find(".manga-info-pic img").AttrOr("src", ""),
		Author:      strings.TrimSpace(doc.Find(".manga-info-text li:contains('Author') a").Text()),
		Status:      strings.TrimSpace(strings.Replace(doc.Find(".manga-info-text li:contains('Status')").Text(), "Status :", "", 1)),
		Description: strings.TrimSpace(doc.Find("#contentBox").Text()),
	}
	if m.Author == "" {
		m.Author = "Unknown"
	}

	doc.Find(".manga-info-text li.genres a").Each(func(_ int, s *goquery.Selection) {
		m.Genres = append(m.Genres, strings.TrimSpace(s.Text()))
	})

	doc.Find(".chapter-list .row").Each(func(_ int, s *goquery.Selection) {
		timeCell := s.Find("span:nth-child(3)")
		uploadTime := timeCell.AttrOr("title", "")
		if uploadTime == "" {
			uploadTime = strings.TrimSpace(timeCell.Text())
		}
		m.Chapters = append(m.Chapters, Chapter{
			Title:      strings.TrimSpace(s.Find("a").Text()),
			URL:        s.Find("a").AttrOr("href", ""),
			Views:      strings.TrimSpace(s.Find("span:nth-child(2)").Text()),
			UploadTime: uploadTime,
		})
	})

	return m, nil
}

// FetchLatestUpdates retrieves and parses the latest-updates feed from
// the site home page.
func (c *Client) FetchLatestUpdates(ctx context.Context) ([]UpdateEntry, error) {
	doc, err := c.getDocument(ctx, c.baseURL+"/")
	if err != nil {
		return nil, err
	}

	var updates []UpdateEntry
	doc.Find("#contentstory .itemupdate").Each(func(_ int, s *goquery.Selection) {
		cover := s.Find("a.cover img").AttrOr("data-src", "")
		if cover == "" {
			cover = s.Find("a.cover img").AttrOr("src", "")
		}
		latest := s.Find("li").Eq(1)
		updates = append(updates, UpdateEntry{
			Title:            strings.TrimSpace(s.Find("h3 a").Text()),
			Cover:            cover,
			URL:              s.Find("h3 a").AttrOr("href", ""),
			LatestChapter:    strings.TrimSpace(latest.Find("a").Text()),
			LatestChapterURL: latest.Find("a").AttrOr("href", ""),
			UploadTime:       strings.TrimSpace(latest.Find("i").Text()),
		})
	})

	return updates, nil
}

// FetchHotManga retrieves and parses the featured list.
func (c *Client) FetchHotManga(ctx context.Context) ([]HotEntry, error) {
	doc, err := c.getDocument(ctx, c.baseURL+"/manga-list/hot-manga")
	if err != nil {
		return nil, err
	}

	var hot []HotEntry
	doc.Find(".truyen-list .list-truyen-item-wrap").Each(func(_ int, s *goquery.Selection) {
		hot = append(hot, HotEntry{
			Title:            strings.TrimSpace(s.Find("h3 a").Text()),
			Cover:            s.Find(".cover img").AttrOr("src", ""),
			URL:              s.Find("h3 a").AttrOr("href", ""),
			LatestChapter:    strings.TrimSpace(s.Find(".list-story-item-wrap-chapter").Text()),
			LatestChapterURL: s.Find(".list-story-item-wrap-chapter").AttrOr("href", ""),
			Views:            strings.TrimSpace(s.Find(".aye_icon").Text()),
			Description:      strings.TrimSpace(s.Find("p").Text()),
		})
	})

	return hot, nil
}

// FetchImage retrieves a binary asset from an arbitrary URL with the
// same browser identity used for page fetches.
func (c *Client) FetchImage(ctx context.Context, url string) (*Image, error) {
	resp, err := c.get(ctx, url, acceptImage)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("cannot read image body from %q: %w", url, err)
	}

	return &Image{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (c *Client) getDocument(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := c.get(ctx, url, acceptHTML)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %q: %w", url, err)
	}
	return doc, nil
}

func (c *Client) get(ctx context.Context, url, accept string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create request for %q: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.referer)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch %q in %s: %w", url, time.Since(startTime), err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code returned from %q: %d. Expecting %d",
			url, resp.StatusCode, http.StatusOK)
	}

	log.Debugf("scrape: fetched %q in %s", url, time.Since(startTime))
	return resp, nil
}
