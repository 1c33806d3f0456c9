package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether a session may send another message.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Forget(key string)
}

// unlimited allows everything.
type unlimited struct{}

func (unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
func (unlimited) Forget(string)                               {}

// MemoryLimiter keeps a token bucket per key in process memory.
type MemoryLimiter struct {
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
	mu      sync.Mutex
}

// NewMemoryLimiter allows perSecond messages per key with the given burst.
func NewMemoryLimiter(perSecond, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow consumes a token for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

// Forget drops the bucket for key.
func (l *MemoryLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// slidingWindowScript trims entries older than the window, then admits the
// request if the remaining count is under the limit.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local counter_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)
	if count < limit then
		local counter = redis.call('INCR', counter_key)
		redis.call('ZADD', key, now, now .. ':' .. counter)
		redis.call('PEXPIRE', key, window_ms)
		redis.call('PEXPIRE', counter_key, window_ms)
		return 1
	end
	return 0
`)

// RedisLimiter is a sliding window limiter shared through Redis.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter allows limit messages per key within each window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
	}
}

// Allow records a message for key if it fits in the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	redisKey := l.prefix + key

	allowed, err := slidingWindowScript.Run(ctx, l.client, []string{redisKey, redisKey + ":counter"},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return allowed == 1, nil
}

// Forget deletes the window for key.
func (l *RedisLimiter) Forget(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	redisKey := l.prefix + key
	_ = l.client.Del(ctx, redisKey, redisKey+":counter").Err()
}
