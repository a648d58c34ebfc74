package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
)

// Observer receives one call per consume decision.
type Observer interface {
	ObserveRateLimit(prefix string, allowed bool)
}

// Limiter guards one call site. Keys are stored as "<prefix>:<key>".
type Limiter struct {
	prefix  string
	cfg     Config
	backend Backend
	cache   *BlockCache
	now     func() time.Time
	obs     Observer
	logger  *slog.Logger
}

// Consume takes cost tokens from key's bucket.
//
// It returns nil when allowed, a *codes.Error with TooManyRequests when denied,
// and any other error when the backend fails.
func (l *Limiter) Consume(ctx context.Context, key string, cost int64) error {
	if cost <= 0 {
		return nil
	}
	if cost > l.cfg.MaxTokens {
		return fmt.Errorf("%w: prefix=%s cost=%d max=%d", ErrCostTooHigh, l.prefix, cost, l.cfg.MaxTokens)
	}

	full := l.prefix + ":" + key
	now := l.now()

	if wait, ok := l.cache.Blocked(full, cost, now); ok {
		l.observe(false)
		return codes.RateLimited(wait)
	}

	d, err := l.backend.Take(ctx, full, l.cfg, cost, now)
	if err != nil {
		if l.logger != nil {
			l.logger.Error("ratelimit.backend.fail", "prefix", l.prefix, "err", err)
		}
		return err
	}
	l.observe(d.Allowed)
	if d.Allowed {
		return nil
	}
	l.cache.Block(full, cost, now.Add(d.RetryAfter), now)
	return codes.RateLimited(d.RetryAfter)
}

// Prefix returns the call site name.
func (l *Limiter) Prefix() string { return l.prefix }

// Config returns the bucket shape.
func (l *Limiter) Config() Config { return l.cfg }

func (l *Limiter) observe(allowed bool) {
	if l.obs != nil {
		l.obs.ObserveRateLimit(l.prefix, allowed)
	}
}

// Factory builds limiters sharing one backend and block cache.
type Factory struct {
	backend Backend
	cache   *BlockCache
	now     func() time.Time
	obs     Observer
	logger  *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(f *Factory) { f.now = now } }

// WithBlockCache sets the shared local block cache.
func WithBlockCache(c *BlockCache) Option { return func(f *Factory) { f.cache = c } }

// WithObserver reports every decision to o.
func WithObserver(o Observer) Option { return func(f *Factory) { f.obs = o } }

// WithLogger logs backend failures to logger.
func WithLogger(logger *slog.Logger) Option { return func(f *Factory) { f.logger = logger } }

// NewFactory returns a Factory over backend.
func NewFactory(backend Backend, opts ...Option) *Factory {
	f := &Factory{backend: backend, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// New returns the limiter for prefix. It panics on an invalid Config since
// limiter shapes are fixed at startup.
func (f *Factory) New(prefix string, c Config) *Limiter {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("ratelimit: %s: %v", prefix, err))
	}
	return &Limiter{
		prefix:  prefix,
		cfg:     c,
		backend: f.backend,
		cache:   f.cache,
		now:     f.now,
		obs:     f.obs,
		logger:  f.logger,
	}
}
