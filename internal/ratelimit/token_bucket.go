// Package ratelimit throttles the accept endpoint per staff member with a
// token bucket kept in Redis, so every API instance shares one budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config sizes the bucket
type Config struct {
	Capacity        int
	RefillPerSecond float64
	// TTL drops idle buckets
	TTL       time.Duration
	KeyPrefix string
}

// TokenBucket is a distributed token bucket rate limiter
type TokenBucket struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// NewTokenBucket creates a new TokenBucket
func NewTokenBucket(client *redis.Client, cfg Config) *TokenBucket {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 5
	}
	if cfg.RefillPerSecond <= 0 {
		cfg.RefillPerSecond = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "dispatch:ratelimit:"
	}
	return &TokenBucket{client: client, cfg: cfg, now: time.Now}
}

// Allow takes one token from key's bucket. It returns whether the call may
// proceed and the tokens left afterwards.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	res, err := bucketScript.Run(ctx, b.client,
		[]string{b.cfg.KeyPrefix + key},
		b.cfg.Capacity, b.cfg.RefillPerSecond, b.now().UnixMilli(), b.cfg.TTL.Milliseconds(),
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to run token bucket: %w", err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply: %v", res)
	}

	allowed, _ := res[0].(int64)
	var tokens float64
	switch v := res[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed == 1, tokens, nil
}

// tokens come back truncated to an integer by the Lua to RESP conversion
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
