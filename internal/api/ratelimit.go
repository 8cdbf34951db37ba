package api

import (
	"context"
	"sync"
	"time"

	"smlgpt/internal/redis"
)

// Limiter is a fixed-window request budget keyed by client.
type Limiter interface {
	// Allow counts one request for key. When it is refused, retryAfter is the
	// time left in the current window.
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RedisLimiter shares its windows between API instances.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
}

func NewRedisLimiter(client *redis.Client, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, max: max}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	count, ttl, err := l.client.IncrWindow(ctx, "smlgpt:ratelimit:"+key, l.window)
	if err != nil {
		return false, 0, err
	}
	return count <= int64(l.max), ttl, nil
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process.
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	now     func() time.Time
	windows map[string]*memoryWindow
}

func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	return &MemoryLimiter{
		window:  window,
		max:     max,
		now:     time.Now,
		windows: make(map[string]*memoryWindow),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.sweepLocked(now)
		w = &memoryWindow{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.max, w.resetAt.Sub(now), nil
}

// sweepLocked drops expired windows so idle clients do not accumulate.
func (l *MemoryLimiter) sweepLocked(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
