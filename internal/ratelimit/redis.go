package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript performs the refill-and-take read-modify-write server-side so
// two simultaneous requests from the same identity can never both be
// admitted past capacity, regardless of how many service instances share
// the bucket.
//
// KEYS[1] bucket hash; ARGV: capacity, refill tokens/sec, now (unix ms),
// idle TTL ms. Returns {allowed, tokens-after} with tokens encoded as a
// string to keep float precision across the Lua/Redis boundary.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'refilled_at')
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])
if tokens == nil or refilled == nil then
  tokens = capacity
  refilled = now
end

local elapsed = (now - refilled) / 1000.0
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * rate)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'refilled_at', now)
redis.call('PEXPIRE', key, ttl)
return {allowed, tostring(tokens)}
`)

// RedisBuckets is the shared BucketStore for multi-instance deployments.
type RedisBuckets struct {
	client *redis.Client
}

// NewRedisBuckets connects a bucket store to the Redis instance at url.
func NewRedisBuckets(url string) (*RedisBuckets, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBuckets{client: redis.NewClient(opt)}, nil
}

// NewRedisBucketsFromClient wraps an existing client (shared with the kv
// store in the common deployment).
func NewRedisBucketsFromClient(client *redis.Client) *RedisBuckets {
	return &RedisBuckets{client: client}
}

func (r *RedisBuckets) Take(ctx context.Context, key string, capacity, refillPerSec float64, now time.Time) (bool, float64, time.Duration, error) {
	res, err := takeScript.Run(ctx, r.client, []string{key},
		capacity,
		refillPerSec,
		now.UnixMilli(),
		bucketIdleTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("ratelimit take %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, 0, fmt.Errorf("ratelimit take %s: unexpected reply %v", key, res)
	}

	allowed, _ := res[0].(int64)
	tokens := 0.0
	if s, ok := res[1].(string); ok {
		tokens, _ = strconv.ParseFloat(s, 64)
	}

	if allowed == 1 {
		return true, tokens, 0, nil
	}
	return false, tokens, retryAfterFor(tokens, refillPerSec), nil
}

func (r *RedisBuckets) Close() error {
	return r.client.Close()
}
