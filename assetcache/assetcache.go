// Package assetcache provides a disk-backed cache for binary assets
// (cover images) proxied from the upstream site.
package assetcache

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mangamirror/config"
	"mangamirror/internal/counter"
	"mangamirror/log"
)

// ErrMissing is returned when the asset isn't found in the cache.
var ErrMissing = errors.New("missing cached asset")

// Cache is a content-addressed file cache under a single flat directory.
//
// The read path never checks freshness: files are served until the
// background sweep deletes them, trading a bounded staleness window
// (max_age + sweep_interval) for read-path simplicity.
type Cache struct {
	dir           string
	sweepInterval time.Duration
	maxAge        time.Duration
	maxSize       uint64

	size  counter.Counter
	items counter.Counter

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// Asset is a cached binary payload.
type Asset struct {
	ContentType string

	// Size is the payload length in bytes.
	Size int64

	// Body must be closed by the caller.
	Body io.ReadCloser
}

// Stats represents cache usage.
type Stats struct {
	// Size is the total size of cached files in bytes.
	Size uint64

	// Items is the number of cached files.
	Items uint64
}

// New returns a cache stored under cfg.Dir and starts its background
// sweeper. The returned cache must be released with Close.
func New(cfg config.AssetCache) (*Cache, error) {
	if len(cfg.Dir) == 0 {
		return nil, fmt.Errorf("`dir` cannot be empty")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("`sweep_interval` must be positive")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("`max_age` must be positive")
	}

	c := &Cache{
		dir:           cfg.Dir,
		sweepInterval: time.Duration(cfg.SweepInterval),
		maxAge:        time.Duration(cfg.MaxAge),
		maxSize:       uint64(cfg.MaxSize),
		stopCh:        make(chan struct{}),
	}

	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create %q: %w", c.dir, err)
	}

	c.wg.Add(1)
	go func() {
		log.Debugf("assetcache: sweeper start")
		c.sweeper()
		log.Debugf("assetcache: sweeper stop")
		c.wg.Done()
	}()

	return c, nil
}

// Close stops the background sweeper.
func (c *Cache) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

// Stats returns cache usage as of the last sweep, adjusted by stores
// performed since.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:  c.size.Load(),
		Items: c.items.Load(),
	}
}

// Open returns the cached asset for the given source URL,
// or ErrMissing if it was never stored or was swept away.
func (c *Cache) Open(u string) (*Asset, error) {
	fp := filepath.Join(c.dir, keyFor(u))
	file, err := os.Open(fp)
	if err != nil {
		return nil, ErrMissing
	}

	ct, err := readHeader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("assetcache: corrupted file %q: %w", fp, err)
	}

	off, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("assetcache: cannot seek %q: %w", fp, err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("assetcache: cannot stat %q: %w", fp, err)
	}

	// A file that outlived maxAge but hasn't been swept yet is treated
	// as missing; the re-fetch overwrites it with a fresh copy.
	if time.Since(fi.ModTime()) > c.maxAge {
		file.Close()
		return nil, ErrMissing
	}

	return &Asset{
		ContentType: ct,
		Size:        fi.Size() - off,
		Body:        file,
	}, nil
}

// Store persists the asset body read from r under the key derived from
// the source URL. The file appears atomically, so a concurrent Open
// never observes a partial body; concurrent stores of the same URL
// write the same bytes and merely duplicate work.
func (c *Cache) Store(u, contentType string, r io.Reader) error {
	tmp, err := os.CreateTemp(c.dir, tmpFilePrefix)
	if err != nil {
		return fmt.Errorf("assetcache: cannot create temp file in %q: %w", c.dir, err)
	}
	tmpName := tmp.Name()

	if err := writeHeader(tmp, contentType); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("assetcache: cannot write content type to %q: %w", tmpName, err)
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("assetcache: cannot write body to %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("assetcache: cannot close %q: %w", tmpName, err)
	}

	fp := filepath.Join(c.dir, keyFor(u))
	if err := os.Rename(tmpName, fp); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("assetcache: cannot rename %q to %q: %w", tmpName, fp, err)
	}

	c.size.Add(uint64(n))
	c.items.Inc()
	return nil
}

func (c *Cache) sweeper() {
	// Recompute stats right away so they reflect files surviving
	// a restart.
	c.sweep()

	for {
		select {
		case <-time.After(c.sweepInterval):
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep deletes files older than maxAge and recomputes cache stats.
// Per-file errors are logged and skipped; one bad file never aborts
// the pass.
func (c *Cache) sweep() {
	currentTime := time.Now()

	log.Debugf("assetcache: start sweeping dir %q", c.dir)

	var totalSize uint64
	var totalItems uint64
	var removedItems uint64
	err := walkDir(c.dir, func(fi os.FileInfo) {
		fn := filepath.Join(c.dir, fi.Name())
		if currentTime.Sub(fi.ModTime()) > c.maxAge {
			if err := os.Remove(fn); err != nil {
				log.Errorf("assetcache: cannot remove file %q: %s", fn, err)
				// Count it as alive; the next sweep retries.
			} else {
				if u, err := urlFor(fi.Name()); err == nil {
					log.Debugf("assetcache: expired %q", u)
				}
				removedItems++
				return
			}
		}
		totalSize += uint64(fi.Size())
		totalItems++
	})
	if err != nil {
		log.Errorf("assetcache: %s", err)
		return
	}

	// Temp files left behind by a crash are reclaimed on the same
	// age schedule.
	c.removeStaleTmpFiles(currentTime)

	if c.maxSize > 0 && totalSize > c.maxSize {
		totalSize, totalItems = c.evictOverflow(totalSize, totalItems)
	}

	c.size.Store(totalSize)
	c.items.Store(totalItems)

	log.Debugf("assetcache: finish sweeping dir %q: %d items, %d bytes, %d removed",
		c.dir, totalItems, totalSize, removedItems)
}

// evictOverflow removes a random subset of files until the total size
// fits under maxSize.
func (c *Cache) evictOverflow(totalSize, totalItems uint64) (uint64, uint64) {
	// Use a dedicated random generator instead of the global one from
	// math/rand, since the global generator is slow due to locking.
	// nolint:gosec // not security sensitive, only used internally.
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	loopsCount := 0
	for totalSize > c.maxSize && loopsCount < 3 {
		excessSize := totalSize - c.maxSize
		p := int32(float64(excessSize) / float64(totalSize) * 100)
		// Remove +10% over the excess.
		p += 10
		err := walkDir(c.dir, func(fi os.FileInfo) {
			if rnd.Int31n(100) > p {
				return
			}

			fn := filepath.Join(c.dir, fi.Name())
			if err := os.Remove(fn); err != nil {
				log.Errorf("assetcache: cannot remove file %q: %s", fn, err)
				return
			}
			totalSize -= uint64(fi.Size())
			totalItems--
		})
		if err != nil {
			log.Errorf("assetcache: %s", err)
			break
		}

		// This should protect from infinite loop.
		loopsCount++
	}

	return totalSize, totalItems
}

func (c *Cache) removeStaleTmpFiles(currentTime time.Time) {
	fis, err := os.ReadDir(c.dir)
	if err != nil {
		log.Errorf("assetcache: cannot read %q: %s", c.dir, err)
		return
	}
	for _, de := range fis {
		if de.IsDir() || !strings.HasPrefix(de.Name(), tmpFilePrefix) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		if currentTime.Sub(fi.ModTime()) <= c.maxAge {
			continue
		}
		fn := filepath.Join(c.dir, de.Name())
		if err := os.Remove(fn); err != nil {
			log.Errorf("assetcache: cannot remove stale temp file %q: %s", fn, err)
		}
	}
}
