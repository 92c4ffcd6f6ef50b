package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript refills and consumes a token bucket atomically so
// that multiple process replicas sharing one supplier quota never
// over-consume it. Buckets are stored as Redis hashes and refilled lazily
// on each take.
//
// KEYS[1] = bucket key (ratelimit:{supplier})
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp, microsecond precision
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// Quota describes one supplier's declared rate limit, using the
// "ratelimit:{supplier} keys".
type Quota struct {
	PerMinute int
	Burst     int
}

// RedisLimiter is a Limiter shared across process replicas, backed by a
// Lua-scripted token bucket in Redis.
type RedisLimiter struct {
	client *redis.Client
	quotas map[string]Quota
}

// NewRedisLimiter builds a limiter that looks up each key's quota from
// quotas; callers typically populate this from supplier configuration
// (requests_per_minute) at startup.
func NewRedisLimiter(client *redis.Client, quotas map[string]Quota) *RedisLimiter {
	return &RedisLimiter{client: client, quotas: quotas}
}

func (l *RedisLimiter) Wait(ctx context.Context, key string, cost int) error {
	q, ok := l.quotas[key]
	if !ok {
		q = Quota{PerMinute: 60, Burst: 60}
	}
	rate := float64(q.PerMinute) / 60.0
	if rate <= 0 {
		rate = 1.0
	}
	burst := q.Burst
	if burst <= 0 {
		burst = q.PerMinute
	}

	redisKey := fmt.Sprintf("ratelimit:%s", key)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		now := float64(time.Now().UnixMicro()) / 1e6
		res, err := redisTokenBucketScript.Run(ctx, l.client, []string{redisKey}, rate, burst, cost, now).Result()
		if err != nil {
			return fmt.Errorf("ratelimit: redis script failed for %s: %w", key, err)
		}
		results, ok := res.([]interface{})
		if !ok || len(results) != 2 {
			return fmt.Errorf("ratelimit: unexpected script response for %s", key)
		}
		allowed, _ := results[0].(int64)
		if allowed == 1 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("ratelimit: deadline exceeded waiting for %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}
