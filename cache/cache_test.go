package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type record struct {
	Title  string
	Genres []string
}

func TestPutGet(t *testing.T) {
	c := New[*record]("test", time.Minute)
	defer c.Close()

	want := &record{Title: "One Piece", Genres: []string{"Action", "Adventure"}}
	c.Put("one-piece", want)

	got, ok := c.Get("one-piece")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected value (-want +got):\n%s", diff)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := New[*record]("test", time.Minute)
	defer c.Close()

	c.Put("k", &record{Title: "t", Genres: []string{"a"}})

	v1, _ := c.Get("k")
	v1.Title = "mutated"
	v1.Genres[0] = "mutated"

	v2, _ := c.Get("k")
	if v2.Title != "t" || v2.Genres[0] != "a" {
		t.Fatalf("cached entry was mutated through a returned value: %+v", v2)
	}
}

func TestExpiry(t *testing.T) {
	c := New[*record]("test", 30*time.Millisecond)
	defer c.Close()

	c.Put("k", &record{Title: "t"})
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected hit within ttl")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after ttl")
	}
	// The expired entry must be purged, not merely skipped.
	if n := c.Len(); n != 0 {
		t.Fatalf("unexpected entries after expiry: %d", n)
	}
}

func TestOverwrite(t *testing.T) {
	c := New[*record]("test", time.Minute)
	defer c.Close()

	c.Put("k", &record{Title: "old"})
	c.Put("k", &record{Title: "new"})

	got, ok := c.Get("k")
	if !ok || got.Title != "new" {
		t.Fatalf("unexpected value after overwrite: %+v", got)
	}
	if n := c.Len(); n != 1 {
		t.Fatalf("unexpected entries count: %d", n)
	}
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	c := New[*record]("test", time.Minute)
	defer c.Close()

	var calls atomic.Int64
	fetch := func(ctx context.Context) (*record, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &record{Title: "fetched"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), "k", fetch)
			if err != nil {
				t.Errorf("unexpected error: %s", err)
				return
			}
			if v.Title != "fetched" {
				t.Errorf("unexpected value: %+v", v)
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected a single upstream fetch; got %d", n)
	}

	// Subsequent call within ttl must not fetch again.
	if _, err := c.GetOrFetch(context.Background(), "k", fetch); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected cached result; got %d fetches", n)
	}
}

func TestGetOrFetchErrorNotCached(t *testing.T) {
	c := New[*record]("test", time.Minute)
	defer c.Close()

	var calls int
	fetch := func(ctx context.Context) (*record, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("upstream down")
		}
		return &record{Title: "recovered"}, nil
	}

	if _, err := c.GetOrFetch(context.Background(), "k", fetch); err == nil {
		t.Fatalf("expected error from first fetch")
	}
	if n := c.Len(); n != 0 {
		t.Fatalf("failure must not be cached; got %d entries", n)
	}

	v, err := c.GetOrFetch(context.Background(), "k", fetch)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v.Title != "recovered" {
		t.Fatalf("unexpected value: %+v", v)
	}
	if calls != 2 {
		t.Fatalf("expected a retry after failure; got %d calls", calls)
	}
}

func TestGetOrFetchContextCancel(t *testing.T) {
	c := New[*record]("test", time.Minute)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(ctx context.Context) (*record, error) {
		time.Sleep(time.Second)
		return &record{}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "k", fetch)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("GetOrFetch did not honor context cancellation")
	}
}

func TestReap(t *testing.T) {
	c := New[*record]("test", 20*time.Millisecond)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("k%d", i), &record{})
	}
	time.Sleep(40 * time.Millisecond)
	c.Put("fresh", &record{})

	if n := c.reap(); n != 5 {
		t.Fatalf("expected 5 reaped entries; got %d", n)
	}
	if n := c.Len(); n != 1 {
		t.Fatalf("unexpected entries after reap: %d", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatalf("fresh entry must survive the reap")
	}
}

func TestStats(t *testing.T) {
	c := New[*record]("test", time.Minute)
	defer c.Close()

	c.Put("k", &record{})
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Items != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestClose(t *testing.T) {
	for i := 0; i < 10; i++ {
		c := New[*record]("test", time.Minute)
		c.Close()
	}
}
