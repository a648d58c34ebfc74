package app

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper deletes expired session records of every kind.
type Sweeper interface {
	Sweep(ctx context.Context) (map[string]int64, error)
}

// SweepObserver receives per-kind deletion counts.
type SweepObserver interface {
	ObserveSweep(kind string, n int64)
}

// runSweeper calls sweep every interval until ctx is done. extra runs after
// each pass (the in-memory rate limit backend prunes full buckets there).
func runSweeper(ctx context.Context, interval time.Duration, s Sweeper, obs SweepObserver, log *slog.Logger, extra func(now time.Time)) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			sweepOnce(ctx, s, obs, log)
			if extra != nil {
				extra(now)
			}
		}
	}
}

func sweepOnce(ctx context.Context, s Sweeper, obs SweepObserver, log *slog.Logger) {
	start := time.Now()
	counts, err := s.Sweep(ctx)
	var total int64
	for kind, n := range counts {
		total += n
		if obs != nil {
			obs.ObserveSweep(kind, n)
		}
	}
	if err != nil {
		if ctx.Err() == nil {
			log.Error("sweep.fail", "err", err, "deleted", total)
		}
		return
	}
	log.Info("sweep.done", "deleted", total, "duration_ms", time.Since(start).Milliseconds())
}
