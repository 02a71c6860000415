package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript evicts, counts and conditionally admits in one round trip.
// Scores are microsecond timestamps passed as strings so Lua never reformats them.
//
// KEYS[1] bucket key
// ARGV[1] now (µs)  ARGV[2] cutoff (µs)  ARGV[3] limit  ARGV[4] ttl (ms)  ARGV[5] member
var slidingWindowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
local admitted = 0
if count < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[5])
  count = count + 1
  admitted = 1
end
redis.call("PEXPIRE", KEYS[1], ARGV[4])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local oldestScore = 0
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {admitted, count, oldestScore}
`)

// RedisStore is the shared CounterStore used when the service runs as more than one instance
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	serverTime bool
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix (default "rl:")
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithServerTime stamps hits with the Redis server clock instead of the caller's,
// so every instance measures the window against one clock.
func WithServerTime() RedisOption {
	return func(s *RedisStore) { s.serverTime = true }
}

// NewRedisStore creates a RedisStore
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "rl:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit implements CounterStore
func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (HitResult, error) {
	if s.serverTime {
		t, err := s.client.Time(ctx).Result()
		if err != nil {
			return HitResult{}, fmt.Errorf("redis time: %w", err)
		}
		now = t
	}

	nowUs := now.UnixMicro()
	cutoffUs := now.Add(-window).UnixMicro()
	ttlMs := window.Milliseconds()
	if ttlMs < 1 {
		ttlMs = 1
	}

	res, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		strconv.FormatInt(nowUs, 10),
		strconv.FormatInt(cutoffUs, 10),
		limit,
		ttlMs,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return HitResult{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(res) != 3 {
		return HitResult{}, fmt.Errorf("redis sliding window: unexpected reply %v", res)
	}

	admitted, _ := res[0].(int64)
	count, _ := res[1].(int64)
	oldestUs, _ := res[2].(int64)

	out := HitResult{Admitted: admitted == 1, Count: int(count), Now: now}
	if oldestUs > 0 {
		out.Oldest = time.UnixMicro(oldestUs)
	}
	return out, nil
}

// Ping checks connectivity for readiness probes
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
