package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Backend applies one take atomically for key.
type Backend interface {
	Take(ctx context.Context, key string, c Config, cost int64, now time.Time) (Decision, error)
}

type memBucket struct {
	Bucket
	cfg Config
}

// MemoryBackend keeps buckets in process memory. It is exact for a single
// instance and is the default when no Redis URL is configured.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]memBucket
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]memBucket)}
}

func (m *MemoryBackend) Take(ctx context.Context, key string, c Config, cost int64, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, d := Take(m.buckets[key].Bucket, c, cost, now)
	if b.Tokens >= c.MaxTokens {
		// A full bucket is indistinguishable from a missing one.
		delete(m.buckets, key)
	} else {
		m.buckets[key] = memBucket{Bucket: b, cfg: c}
	}
	return d, nil
}

// Prune drops buckets that have refilled completely by now.
func (m *MemoryBackend) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, b := range m.buckets {
		if Refill(b.Bucket, b.cfg, now).Tokens >= b.cfg.MaxTokens {
			delete(m.buckets, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked (non-full) buckets.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
