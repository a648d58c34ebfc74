package ratelimit

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis tests are opt-in and require MONACA_REDIS_URL.
func mustRedis(t *testing.T) *redis.Client {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("MONACA_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: MONACA_REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		t.Fatalf("parse MONACA_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if os.Getenv("CI") == "" {
			t.Skipf("integration test skipped: Redis unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisBackend_MatchesMemoryBackend(t *testing.T) {
	client := mustRedis(t)
	ctx := context.Background()

	prefix := "monaca:rl:test:" + time.Now().Format("150405.000000000") + ":"
	t.Cleanup(func() { client.Del(context.Background(), prefix+"k") })

	rb := NewRedisBackend(client, prefix)
	mb := NewMemoryBackend()
	cfg := Config{MaxTokens: 5, RefillRate: 2, RefillInterval: time.Minute}

	steps := []struct {
		at   time.Duration
		cost int64
	}{
		{0, 1}, {0, 3}, {0, 2}, {30 * time.Second, 1}, {time.Minute, 2}, {time.Minute, 1}, {3 * time.Minute, 5},
	}
	for i, s := range steps {
		now := t0.Add(s.at)
		want, err := mb.Take(ctx, "k", cfg, s.cost, now)
		if err != nil {
			t.Fatalf("memory take %d: %v", i, err)
		}
		got, err := rb.Take(ctx, "k", cfg, s.cost, now)
		if err != nil {
			t.Fatalf("redis take %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("step %d: redis %+v, memory %+v", i, got, want)
		}
	}
}
