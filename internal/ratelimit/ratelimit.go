package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory keeps one token bucket per key in process memory.
type Memory struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func NewMemory(perMinute, burst int) *Memory {
	return &Memory{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	l, ok := m.buckets[key]
	if !ok {
		l = rate.NewLimiter(m.limit, m.burst)
		m.buckets[key] = l
	}
	m.mu.Unlock()
	return l.Allow(), nil
}

// windowScript counts hits in a fixed window.
// KEYS[1] = window key
// ARGV[1] = window length in milliseconds
// Returns the hit count including this one.
var windowScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Redis is a fixed-window limiter shared by every API instance.
type Redis struct {
	client    goredis.Scripter
	keyPrefix string
	limit     int
	window    time.Duration
}

func NewRedis(client goredis.Scripter, limit int, window time.Duration) *Redis {
	return &Redis{
		client:    client,
		keyPrefix: "imagecredits:ratelimit:",
		limit:     limit,
		window:    window,
	}
}

// NewRedisFromURL connects to url and verifies the connection.
func NewRedisFromURL(ctx context.Context, url string, limit int, window time.Duration) (*Redis, *goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, limit, window), client, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixMilli() / r.window.Milliseconds()
	redisKey := fmt.Sprintf("%s%s:%d", r.keyPrefix, key, bucket)
	n, err := windowScript.Run(ctx, r.client, []string{redisKey}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return n <= int64(r.limit), nil
}
