package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig is returned for a bucket configuration that can never refill.
	ErrInvalidConfig = errors.New("ratelimit: invalid config")
	// ErrCostTooHigh is returned when a single take exceeds the bucket capacity.
	ErrCostTooHigh = errors.New("ratelimit: cost exceeds capacity")
)

// Config describes one bucket shape.
type Config struct {
	MaxTokens      int64
	RefillRate     int64
	RefillInterval time.Duration
}

// Validate reports whether c describes a usable bucket.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 || c.RefillRate <= 0 || c.RefillInterval <= 0 {
		return fmt.Errorf("%w: max=%d rate=%d interval=%s", ErrInvalidConfig, c.MaxTokens, c.RefillRate, c.RefillInterval)
	}
	return nil
}

// fullAfter is how long an empty bucket takes to refill completely.
func (c Config) fullAfter() time.Duration {
	n := (c.MaxTokens + c.RefillRate - 1) / c.RefillRate
	return time.Duration(n) * c.RefillInterval
}

// Bucket is the persisted state of one key.
type Bucket struct {
	Tokens     int64
	LastRefill time.Time
}

// Decision is the outcome of one take.
type Decision struct {
	Allowed   bool
	Remaining int64
	// RetryAfter is how long until cost tokens are available. Zero when allowed.
	RetryAfter time.Duration
}

// Refill applies every whole interval elapsed since b.LastRefill.
// A zero bucket is treated as full.
func Refill(b Bucket, c Config, now time.Time) Bucket {
	if b.LastRefill.IsZero() {
		return Bucket{Tokens: c.MaxTokens, LastRefill: now}
	}
	if !now.After(b.LastRefill) {
		return b
	}
	n := int64(now.Sub(b.LastRefill) / c.RefillInterval)
	if n <= 0 {
		return b
	}
	tokens := b.Tokens + n*c.RefillRate
	if tokens > c.MaxTokens || tokens < b.Tokens {
		tokens = c.MaxTokens
	}
	return Bucket{Tokens: tokens, LastRefill: b.LastRefill.Add(time.Duration(n) * c.RefillInterval)}
}

// Take refills b and removes cost tokens when enough are available.
func Take(b Bucket, c Config, cost int64, now time.Time) (Bucket, Decision) {
	b = Refill(b, c, now)
	if b.Tokens >= cost {
		b.Tokens -= cost
		return b, Decision{Allowed: true, Remaining: b.Tokens}
	}
	return b, Decision{Remaining: b.Tokens, RetryAfter: RetryAfter(b, c, cost, now)}
}

// RetryAfter returns the wait until b holds cost tokens.
func RetryAfter(b Bucket, c Config, cost int64, now time.Time) time.Duration {
	deficit := cost - b.Tokens
	if deficit <= 0 {
		return 0
	}
	intervals := (deficit + c.RefillRate - 1) / c.RefillRate
	d := b.LastRefill.Add(time.Duration(intervals) * c.RefillInterval).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
