package ratelimit

import (
	"sync"
	"time"
)

type blockKey struct {
	key  string
	cost int64
}

// BlockCache remembers keys that were denied, until the time they can succeed again.
//
// It is bounded: when full, expired entries are dropped first and then an
// arbitrary entry. Losing an entry only costs one extra backend round trip.
type BlockCache struct {
	mu      sync.Mutex
	max     int
	entries map[blockKey]time.Time
}

// NewBlockCache returns a cache holding at most max entries. max <= 0 disables caching.
func NewBlockCache(max int) *BlockCache {
	return &BlockCache{max: max, entries: make(map[blockKey]time.Time)}
}

// Blocked returns the remaining block for (key, cost) at now, if any.
func (c *BlockCache) Blocked(key string, cost int64, now time.Time) (time.Duration, bool) {
	if c == nil || c.max <= 0 {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := blockKey{key, cost}
	until, ok := c.entries[k]
	if !ok {
		return 0, false
	}
	if !now.Before(until) {
		delete(c.entries, k)
		return 0, false
	}
	return until.Sub(now), true
}

// Block records that (key, cost) cannot succeed before until.
func (c *BlockCache) Block(key string, cost int64, until time.Time, now time.Time) {
	if c == nil || c.max <= 0 || !until.After(now) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := blockKey{key, cost}
	if _, ok := c.entries[k]; !ok && len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[k] = until
}

func (c *BlockCache) evictLocked(now time.Time) {
	for k, until := range c.entries {
		if !now.Before(until) {
			delete(c.entries, k)
		}
	}
	for k := range c.entries {
		if len(c.entries) < c.max {
			return
		}
		delete(c.entries, k)
	}
}

// Len returns the number of cached blocks.
func (c *BlockCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
