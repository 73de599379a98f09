// Package counter provides a tiny atomic counter shared by cache
// statistics and rate windows.
package counter

import "sync/atomic"

type Counter struct {
	value atomic.Uint64
}

func (c *Counter) Store(n uint64) { c.value.Store(n) }

func (c *Counter) Load() uint64 { return c.value.Load() }

func (c *Counter) Add(n uint64) uint64 { return c.value.Add(n) }

func (c *Counter) Inc() uint64 { return c.value.Add(1) }

func (c *Counter) Dec() { c.value.Add(^uint64(0)) }
