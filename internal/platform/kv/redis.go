package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedis parses a redis:// or rediss:// URL and verifies the connection.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RateLimiter counts attempts per key inside a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisRateLimiter implements RateLimiter with a counter that expires one
// window after the first attempt, so limits hold across instances.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// fixedWindowIncr only sets the expiry when it creates the counter, so
// repeated attempts cannot push the reset further out.
var fixedWindowIncr = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// NewRedisRateLimiter creates a limiter allowing limit attempts per window.
func NewRedisRateLimiter(client *redis.Client, prefix string, limit int64, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow records an attempt and reports whether it is within the limit.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil || l.limit <= 0 {
		return true, nil
	}

	count, err := fixedWindowIncr.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		// Fails open; the caller decides whether to log.
		return true, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return count <= l.limit, nil
}

// MemoryRateLimiter is the single-process fallback used when no redis is configured.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	limit   int64
	window  time.Duration
	now     func() time.Time
	buckets map[string]*windowCount
	// nextSweep is when lapsed buckets are next dropped.
	nextSweep time.Time
}

type windowCount struct {
	count   int64
	resetAt time.Time
}

// NewMemoryRateLimiter creates an in-process limiter.
func NewMemoryRateLimiter(limit int64, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*windowCount),
	}
}

// Allow records an attempt and reports whether it is within the limit.
func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.nextSweep) {
		for k, b := range l.buckets {
			if now.After(b.resetAt) {
				delete(l.buckets, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.resetAt) {
		bucket = &windowCount{resetAt: now.Add(l.window)}
		l.buckets[key] = bucket
	}
	bucket.count++
	return bucket.count <= l.limit, nil
}
