// Package cache provides a time-boxed in-memory cache for structured
// query results fetched from the upstream site.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mohae/deepcopy"
	"golang.org/x/sync/singleflight"

	"mangamirror/internal/counter"
	"mangamirror/log"
)

// Cache memoizes values of type T by string key for a fixed TTL.
//
// Entries are dropped on expiry at access time and by a periodic reaper,
// so memory stays bounded by the set of keys touched within one TTL
// window. There is no eviction on size pressure.
type Cache[T any] struct {
	name string
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]entry[T]

	sf singleflight.Group

	hits   counter.Counter
	misses counter.Counter

	wg     sync.WaitGroup
	stopCh chan struct{}
}

type entry[T any] struct {
	value    T
	storedAt time.Time
}

// Stats represents cache usage counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Items  uint64
}

// New returns a cache with the given ttl and starts its background reaper.
// The returned cache must be released with Close.
func New[T any](name string, ttl time.Duration) *Cache[T] {
	c := &Cache[T]{
		name:    name,
		ttl:     ttl,
		entries: make(map[string]entry[T]),
		stopCh:  make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		log.Debugf("cache %q: reaper start", c.name)
		c.reaper()
		log.Debugf("cache %q: reaper stop", c.name)
		c.wg.Done()
	}()

	return c
}

// Name returns the cache name.
func (c *Cache[T]) Name() string {
	return c.name
}

// Close stops the background reaper.
func (c *Cache[T]) Close() {
	close(c.stopCh)
	c.wg.Wait()
}

// Get returns a copy of the value stored under key.
// An entry older than the TTL is purged and reported as missing.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[T]) getLocked(key string) (T, bool) {
	var zero T
	e, ok := c.entries[key]
	if !ok {
		c.misses.Inc()
		return zero, false
	}
	if time.Since(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		c.misses.Inc()
		return zero, false
	}
	c.hits.Inc()

	// Return a copy so callers cannot mutate the shared entry.
	return deepcopy.Copy(e.value).(T), true
}

// Put stores value under key, overwriting any previous entry.
func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	c.entries[key] = entry[T]{
		value:    deepcopy.Copy(value).(T),
		storedAt: time.Now(),
	}
	c.mu.Unlock()
}

// GetOrFetch returns the cached value for key, fetching it via fetch on
// a miss. Concurrent misses on the same key share a single fetch.
// Fetch failures are returned to all waiters and never cached, so the
// next request retries the upstream.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.sf.DoChan(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have
		// filled the entry between the miss and this call.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			return deepcopy.Copy(res.Val.(T)).(T), nil
		}
		return res.Val.(T), nil
	}
}

// Len returns the number of stored entries, including entries that
// expired but have not been purged yet.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache usage counters.
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Items:  uint64(c.Len()),
	}
}

func (c *Cache[T]) reaper() {
	d := c.ttl / 2
	if d < time.Second {
		d = time.Second
	}
	if d > time.Hour {
		d = time.Hour
	}

	for {
		select {
		case <-time.After(d):
			n := c.reap()
			if n > 0 {
				log.Debugf("cache %q: reaped %d expired entries", c.name, n)
			}
		case <-c.stopCh:
			return
		}
	}
}

// reap removes all expired entries and reports how many were removed.
func (c *Cache[T]) reap() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
