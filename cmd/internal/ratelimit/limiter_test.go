package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingObserver struct {
	mu      sync.Mutex
	allowed map[string]int
	denied  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{allowed: map[string]int{}, denied: map[string]int{}}
}

func (o *countingObserver) ObserveRateLimit(prefix string, allowed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if allowed {
		o.allowed[prefix]++
	} else {
		o.denied[prefix]++
	}
}

type countingBackend struct {
	Backend
	calls int
}

func (b *countingBackend) Take(ctx context.Context, key string, c Config, cost int64, now time.Time) (Decision, error) {
	b.calls++
	return b.Backend.Take(ctx, key, c, cost, now)
}

func TestLimiter_LoginScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: t0}
	f := NewFactory(NewMemoryBackend(), WithClock(clock.Now))
	l := f.New("login", Config{MaxTokens: 5, RefillRate: 5, RefillInterval: 10 * time.Minute})

	for i := 0; i < 5; i++ {
		if err := l.Consume(ctx, "1.2.3.4", 1); err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
	}
	err := l.Consume(ctx, "1.2.3.4", 1)
	e, ok := codes.From(err)
	if !ok || e.Code != codes.TooManyRequests {
		t.Fatalf("sixth consume: expected TOO_MANY_REQUESTS, got %v", err)
	}
	if e.RetryAfter != 10*time.Minute {
		t.Fatalf("RetryAfter = %v, want 10m", e.RetryAfter)
	}

	clock.Advance(10 * time.Minute)
	if err := l.Consume(ctx, "1.2.3.4", 1); err != nil {
		t.Fatalf("consume after refill: %v", err)
	}
}

func TestLimiter_PrefixesDoNotShareQuota(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewFactory(NewMemoryBackend(), WithClock(func() time.Time { return t0 }))
	cfg := Config{MaxTokens: 1, RefillRate: 1, RefillInterval: time.Hour}
	a := f.New("login", cfg)
	b := f.New("signup-request", cfg)

	if err := a.Consume(ctx, "k", 1); err != nil {
		t.Fatalf("a: %v", err)
	}
	if err := b.Consume(ctx, "k", 1); err != nil {
		t.Fatalf("b must have its own bucket: %v", err)
	}
	if err := a.Consume(ctx, "k", 1); !codes.Has(err, codes.TooManyRequests) {
		t.Fatalf("a second consume should be limited, got %v", err)
	}
}

func TestLimiter_ComposedIPAndEmailBuckets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewFactory(NewMemoryBackend(), WithClock(func() time.Time { return t0 }))
	l := f.New(PrefixLogin, Presets[PrefixLogin])

	// Ten attempts from distinct IPs exhaust the per-email bucket.
	for i := 0; i < 10; i++ {
		ip := "10.0.0." + string(rune('0'+i))
		if err := l.Consume(ctx, ip, 1); err != nil {
			t.Fatalf("ip consume: %v", err)
		}
		if err := l.Consume(ctx, "victim@example.com", CostPerEmail); err != nil {
			t.Fatalf("email consume %d: %v", i+1, err)
		}
	}
	if err := l.Consume(ctx, "victim@example.com", CostPerEmail); !codes.Has(err, codes.TooManyRequests) {
		t.Fatalf("expected per-email limit, got %v", err)
	}
	if err := l.Consume(ctx, "10.0.0.x", 1); err != nil {
		t.Fatalf("a fresh IP should still pass: %v", err)
	}
}

func TestLimiter_BlockCacheShortCircuitsBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &testClock{now: t0}
	backend := &countingBackend{Backend: NewMemoryBackend()}
	obs := newCountingObserver()
	f := NewFactory(backend, WithClock(clock.Now), WithBlockCache(NewBlockCache(16)), WithObserver(obs))
	l := f.New("p", Config{MaxTokens: 1, RefillRate: 1, RefillInterval: time.Minute})

	_ = l.Consume(ctx, "k", 1)
	_ = l.Consume(ctx, "k", 1) // denied by backend, cached
	calls := backend.calls
	for i := 0; i < 3; i++ {
		if err := l.Consume(ctx, "k", 1); !codes.Has(err, codes.TooManyRequests) {
			t.Fatalf("expected cached denial, got %v", err)
		}
	}
	if backend.calls != calls {
		t.Fatalf("cached denials reached the backend: %d -> %d", calls, backend.calls)
	}
	if obs.allowed["p"] != 1 || obs.denied["p"] != 4 {
		t.Fatalf("observer counts allowed=%d denied=%d", obs.allowed["p"], obs.denied["p"])
	}

	clock.Advance(time.Minute)
	if err := l.Consume(ctx, "k", 1); err != nil {
		t.Fatalf("block should lapse after RetryAfter: %v", err)
	}
}

func TestLimiter_CostAboveCapacityIsAnError(t *testing.T) {
	t.Parallel()

	f := NewFactory(NewMemoryBackend())
	l := f.New("p", Config{MaxTokens: 5, RefillRate: 1, RefillInterval: time.Minute})
	err := l.Consume(context.Background(), "k", 6)
	if !errors.Is(err, ErrCostTooHigh) {
		t.Fatalf("expected ErrCostTooHigh, got %v", err)
	}
}

func TestLimiter_BackendErrorPropagates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFactory(NewMemoryBackend())
	l := f.New("p", Config{MaxTokens: 5, RefillRate: 1, RefillInterval: time.Minute})
	err := l.Consume(ctx, "k", 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := codes.From(err); ok {
		t.Fatalf("backend failure must not look like an expected outcome")
	}
}

func TestSet_BuildsEveryPreset(t *testing.T) {
	t.Parallel()

	s := NewSet(NewFactory(NewMemoryBackend()))
	for prefix, c := range Presets {
		if got := s.Get(prefix).Config(); got != c {
			t.Fatalf("%s: config %+v, want %+v", prefix, got, c)
		}
	}
}
