package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript mirrors Take on a Redis hash {tokens, last}. Times are unix milliseconds.
var takeScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local state = redis.call("HMGET", KEYS[1], "tokens", "last")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = max
  last = now
end

if now > last then
  local n = math.floor((now - last) / interval)
  if n > 0 then
    tokens = math.min(max, tokens + n * rate)
    last = last + n * interval
  end
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "last", last)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tokens, last}
`)

// RedisBackend stores buckets in Redis so every instance shares quota.
type RedisBackend struct {
	client    redis.Scripter
	keyPrefix string
}

// NewRedisBackend returns a backend over client. keyPrefix namespaces every key (e.g. "monaca:rl:").
func NewRedisBackend(client redis.Scripter, keyPrefix string) *RedisBackend {
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

func (r *RedisBackend) Take(ctx context.Context, key string, c Config, cost int64, now time.Time) (Decision, error) {
	ttl := c.fullAfter() + c.RefillInterval
	res, err := takeScript.Run(ctx, r.client, []string{r.keyPrefix + key},
		c.MaxTokens,
		c.RefillRate,
		c.RefillInterval.Milliseconds(),
		cost,
		now.UnixMilli(),
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis take: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: redis take: unexpected reply length %d", len(res))
	}

	b := Bucket{Tokens: res[1], LastRefill: time.UnixMilli(res[2])}
	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: b.Tokens}, nil
	}
	return Decision{Remaining: b.Tokens, RetryAfter: RetryAfter(b, c, cost, now)}, nil
}
