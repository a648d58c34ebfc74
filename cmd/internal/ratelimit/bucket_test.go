package ratelimit

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestTake_ConservationFromFullBucket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		cost int64
	}{
		{"unit cost", Config{MaxTokens: 5, RefillRate: 5, RefillInterval: 10 * time.Minute}, 1},
		{"cost divides capacity", Config{MaxTokens: 1000, RefillRate: 500, RefillInterval: 30 * time.Minute}, 100},
		{"cost does not divide capacity", Config{MaxTokens: 10, RefillRate: 3, RefillInterval: time.Minute}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b Bucket
			var d Decision
			want := tc.cfg.MaxTokens / tc.cost
			for i := int64(0); i < want; i++ {
				b, d = Take(b, tc.cfg, tc.cost, t0)
				if !d.Allowed {
					t.Fatalf("take %d denied, remaining %d", i+1, d.Remaining)
				}
			}
			b, d = Take(b, tc.cfg, tc.cost, t0)
			if d.Allowed {
				t.Fatalf("take %d should be denied", want+1)
			}
			if d.RetryAfter <= 0 {
				t.Fatalf("denied take must report RetryAfter, got %v", d.RetryAfter)
			}

			remaining := b.Tokens
			b = Refill(b, tc.cfg, t0.Add(tc.cfg.RefillInterval))
			wantTokens := min(tc.cfg.MaxTokens, remaining+tc.cfg.RefillRate)
			if b.Tokens != wantTokens {
				t.Fatalf("after one interval tokens = %d, want %d", b.Tokens, wantTokens)
			}
		})
	}
}

func TestRefill_OnlyWholeIntervalsCount(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxTokens: 10, RefillRate: 2, RefillInterval: time.Minute}
	b := Bucket{Tokens: 0, LastRefill: t0}

	if got := Refill(b, cfg, t0.Add(59*time.Second)); got.Tokens != 0 || !got.LastRefill.Equal(t0) {
		t.Fatalf("partial interval refilled: %+v", got)
	}
	got := Refill(b, cfg, t0.Add(150*time.Second))
	if got.Tokens != 4 {
		t.Fatalf("tokens = %d, want 4", got.Tokens)
	}
	if !got.LastRefill.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("LastRefill = %v, want t0+2m", got.LastRefill)
	}
	if got := Refill(b, cfg, t0.Add(time.Hour)); got.Tokens != 10 {
		t.Fatalf("refill must cap at MaxTokens, got %d", got.Tokens)
	}
	if got := Refill(b, cfg, t0.Add(-time.Hour)); got != b {
		t.Fatalf("clock going backwards must not change the bucket")
	}
}

func TestRetryAfter_WaitsForEnoughIntervals(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxTokens: 1000, RefillRate: 500, RefillInterval: 30 * time.Minute}
	b := Bucket{Tokens: 50, LastRefill: t0}

	if got := RetryAfter(b, cfg, 100, t0.Add(10*time.Minute)); got != 20*time.Minute {
		t.Fatalf("RetryAfter = %v, want 20m", got)
	}
	cfg = Config{MaxTokens: 10, RefillRate: 1, RefillInterval: time.Minute}
	b = Bucket{Tokens: 0, LastRefill: t0}
	if got := RetryAfter(b, cfg, 3, t0); got != 3*time.Minute {
		t.Fatalf("RetryAfter = %v, want 3m", got)
	}
	if got := RetryAfter(Bucket{Tokens: 5, LastRefill: t0}, cfg, 3, t0); got != 0 {
		t.Fatalf("RetryAfter with enough tokens = %v, want 0", got)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	bad := []Config{
		{},
		{MaxTokens: 1, RefillRate: 0, RefillInterval: time.Second},
		{MaxTokens: 1, RefillRate: 1},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("Validate(%+v) should fail", c)
		}
	}
	for prefix, c := range Presets {
		if err := c.Validate(); err != nil {
			t.Fatalf("preset %s invalid: %v", prefix, err)
		}
	}
}
