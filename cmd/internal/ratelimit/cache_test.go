package ratelimit

import (
	"testing"
	"time"
)

func TestBlockCache_ExpiresLazily(t *testing.T) {
	t.Parallel()

	c := NewBlockCache(4)
	c.Block("k", 1, t0.Add(time.Minute), t0)

	if wait, ok := c.Blocked("k", 1, t0.Add(20*time.Second)); !ok || wait != 40*time.Second {
		t.Fatalf("Blocked = %v, %v", wait, ok)
	}
	if _, ok := c.Blocked("k", 2, t0); ok {
		t.Fatalf("a block for cost 1 must not apply to cost 2")
	}
	if _, ok := c.Blocked("k", 1, t0.Add(time.Minute)); ok {
		t.Fatalf("block must lapse at its deadline")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on read, len=%d", c.Len())
	}
}

func TestBlockCache_IsBounded(t *testing.T) {
	t.Parallel()

	c := NewBlockCache(3)
	for i := 0; i < 10; i++ {
		c.Block(string(rune('a'+i)), 1, t0.Add(time.Hour), t0)
		if c.Len() > 3 {
			t.Fatalf("cache grew past its bound: %d", c.Len())
		}
	}
}

func TestBlockCache_EvictsExpiredFirst(t *testing.T) {
	t.Parallel()

	c := NewBlockCache(2)
	c.Block("old", 1, t0.Add(time.Second), t0)
	c.Block("live", 1, t0.Add(time.Hour), t0)
	c.Block("new", 1, t0.Add(time.Hour), t0.Add(time.Minute))

	if _, ok := c.Blocked("live", 1, t0.Add(time.Minute)); !ok {
		t.Fatalf("live entry should survive when an expired one can be evicted")
	}
	if _, ok := c.Blocked("new", 1, t0.Add(time.Minute)); !ok {
		t.Fatalf("new entry missing")
	}
}

func TestBlockCache_DisabledAndNil(t *testing.T) {
	t.Parallel()

	var nilCache *BlockCache
	nilCache.Block("k", 1, t0.Add(time.Hour), t0)
	if _, ok := nilCache.Blocked("k", 1, t0); ok {
		t.Fatalf("nil cache must never block")
	}
	off := NewBlockCache(0)
	off.Block("k", 1, t0.Add(time.Hour), t0)
	if _, ok := off.Blocked("k", 1, t0); ok {
		t.Fatalf("disabled cache must never block")
	}
}

func TestMemoryBackend_PrunesFullBuckets(t *testing.T) {
	t.Parallel()

	m := NewMemoryBackend()
	cfg := Config{MaxTokens: 2, RefillRate: 1, RefillInterval: time.Minute}
	if _, err := m.Take(t.Context(), "a", cfg, 1, t0); err != nil {
		t.Fatalf("Take: %v", err)
	}
	if _, err := m.Take(t.Context(), "b", cfg, 2, t0); err != nil {
		t.Fatalf("Take: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
	if n := m.Prune(t0.Add(time.Minute)); n != 1 || m.Len() != 1 {
		t.Fatalf("Prune removed %d, Len = %d", n, m.Len())
	}
}
