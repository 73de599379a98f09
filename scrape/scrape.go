// Package scrape fetches structured catalog data and binary assets
// from the upstream manga site.
//
// Field values are passed through as scraped: the service makes no
// correctness guarantee on upstream data.
package scrape

import "context"

// Manga is a full catalog record.
type Manga struct {
	Title       string    `json:"title"`
	Cover       string    `json:"cover"`
	Author      string    `json:"author"`
	Status      string    `json:"status"`
	Genres      []string  `json:"genres"`
	Description string    `json:"description"`
	Chapters    []Chapter `json:"chapters"`
}

// Chapter is one entry of a manga chapter list.
type Chapter struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Views      string `json:"views"`
	UploadTime string `json:"upload_time"`
}

// UpdateEntry is a lightweight entry of the latest-updates feed.
type UpdateEntry struct {
	Title            string `json:"title"`
	Cover            string `json:"cover"`
	URL              string `json:"url"`
	LatestChapter    string `json:"latest_chapter"`
	LatestChapterURL string `json:"latest_chapter_url"`
	UploadTime       string `json:"upload_time"`
}

// HotEntry is one entry of the featured ("hot") list.
//
// The camelCase tags are kept as the public API inherited them; do not
// "fix" them, clients depend on the exact names.
type HotEntry struct {
	Title            string `json:"title"`
	Cover            string `json:"cover"`
	URL              string `json:"url"`
	LatestChapter    string `json:"latestChapter"`
	LatestChapterURL string `json:"latestChapterUrl"`
	Views            string `json:"views"`
	Description      string `json:"description"`
}

// Image is a fetched binary asset.
type Image struct {
	ContentType string
	Body        []byte
}

// Fetcher retrieves catalog data from the origin site. Implementations
// perform network I/O; all methods honor ctx cancellation.
type Fetcher interface {
	FetchManga(ctx context.Context, id string) (*Manga, error)
	FetchLatestUpdates(ctx context.Context) ([]UpdateEntry, error)
	FetchHotManga(ctx context.Context) ([]HotEntry, error)
	FetchImage(ctx context.Context, url string) (*Image, error)
}
