package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRateKeyPrefix namespaces rate limit counters in Redis
const DefaultRateKeyPrefix = "payalloc:ratelimit:"

// RateDecision is the outcome of one Allow call
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// RateLimiter counts hits per key in fixed windows
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
}

// InMemoryRateLimiter is a fixed-window limiter local to one process
type InMemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	hits    int
	started time.Time
}

// NewInMemoryRateLimiter creates a limiter of limit hits per period
func NewInMemoryRateLimiter(limit int, period time.Duration) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow records a hit for key
func (l *InMemoryRateLimiter) Allow(_ context.Context, key string) (RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.started) >= l.period {
		l.sweep(now)
		w = &window{started: now}
		l.windows[key] = w
	}

	d := RateDecision{Limit: l.limit, ResetAfter: w.started.Add(l.period).Sub(now)}
	if w.hits >= l.limit {
		return d, nil
	}
	w.hits++
	d.Allowed = true
	d.Remaining = l.limit - w.hits
	return d, nil
}

// sweep drops expired windows; called with mu held when a window rolls over
func (l *InMemoryRateLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.started) >= l.period {
			delete(l.windows, k)
		}
	}
}

// RedisRateLimiter shares fixed-window counters between instances
type RedisRateLimiter struct {
	client    redis.UniversalClient
	limit     int
	period    time.Duration
	keyPrefix string
}

// NewRedisRateLimiter wraps an existing client. An empty prefix means
// DefaultRateKeyPrefix.
func NewRedisRateLimiter(client redis.UniversalClient, limit int, period time.Duration, keyPrefix string) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = DefaultRateKeyPrefix
	}
	return &RedisRateLimiter{client: client, limit: limit, period: period, keyPrefix: keyPrefix}
}

// Allow increments the key's counter. The first hit of a window sets the
// expiry, so the window starts with the first request.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	k := l.keyPrefix + key
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireNX(ctx, k, l.period)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return RateDecision{}, fmt.Errorf("failed to count rate limit hit: %w", err)
	}

	hits := int(incr.Val())
	d := RateDecision{Limit: l.limit, ResetAfter: ttl.Val()}
	if d.ResetAfter < 0 {
		d.ResetAfter = l.period
	}
	if hits > l.limit {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = l.limit - hits
	return d, nil
}

var (
	_ RateLimiter = (*InMemoryRateLimiter)(nil)
	_ RateLimiter = (*RedisRateLimiter)(nil)
)
