// Package cache holds the Redis and in-memory stores behind request
// idempotency and per-tenant rate limiting.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pingTimeout         = 5 * time.Second
	inMemorySweepPeriod = 5 * time.Minute
)

// StoreFactory picks Redis when configured and reachable and falls back to
// memory otherwise. All stores it creates share one Redis client.
type StoreFactory struct {
	cfg           config.RedisConfig
	logger        *zap.Logger
	allowFallback bool

	dialed bool
	client redis.UniversalClient
}

// FactoryOption configures StoreFactory
type FactoryOption func(*StoreFactory)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *StoreFactory) { f.logger = logger }
}

// WithInMemoryFallback controls the fallback when Redis is unreachable. On by default.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *StoreFactory) { f.allowFallback = allow }
}

// WithClient uses an existing client instead of dialing cfg
func WithClient(client redis.UniversalClient) FactoryOption {
	return func(f *StoreFactory) {
		f.client = client
		f.dialed = true
	}
}

// NewStoreFactory creates a factory. It is not safe for concurrent use;
// build the stores once at startup.
func NewStoreFactory(cfg config.RedisConfig, opts ...FactoryOption) *StoreFactory {
	f := &StoreFactory{cfg: cfg, logger: zap.NewNop(), allowFallback: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// redisClient dials once. A nil client with a nil error means memory.
func (f *StoreFactory) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if f.dialed {
		return f.client, nil
	}
	f.dialed = true
	if f.cfg.Host == "" {
		f.logger.Info("redis not configured, using in-memory stores")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     f.cfg.Addr(),
		Password: f.cfg.Password,
		DB:       f.cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	err := client.Ping(pingCtx).Err()
	if err == nil {
		f.logger.Info("using redis stores", zap.String("addr", f.cfg.Addr()))
		f.client = client
		return client, nil
	}
	_ = client.Close()

	if !f.allowFallback {
		return nil, fmt.Errorf("redis required but unavailable: %w", err)
	}
	f.logger.Warn("redis unavailable, falling back to in-memory stores",
		zap.String("addr", f.cfg.Addr()),
		zap.Error(err),
	)
	return nil, nil
}

// CreateStore returns the idempotency store
func (f *StoreFactory) CreateStore(ctx context.Context) (shared.IdempotencyStore, error) {
	client, err := f.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return NewInMemoryIdempotencyStore(inMemorySweepPeriod), nil
	}
	return NewRedisIdempotencyStore(client, ""), nil
}

// CreateRateLimiter returns a fixed-window limiter of limit hits per window
func (f *StoreFactory) CreateRateLimiter(ctx context.Context, limit int, window time.Duration) (RateLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}
	client, err := f.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return NewInMemoryRateLimiter(limit, window), nil
	}
	return NewRedisRateLimiter(client, limit, window, ""), nil
}

// Close releases the shared Redis client
func (f *StoreFactory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
