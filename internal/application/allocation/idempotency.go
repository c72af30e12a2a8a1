package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdempotencyGuard rejects a second request carrying the same Idempotency-Key
// for the same company and operation while the first is remembered
type IdempotencyGuard struct {
	store  shared.IdempotencyStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotencyGuard creates a guard. A nil store disables it.
func NewIdempotencyGuard(store shared.IdempotencyStore, ttl time.Duration, logger *zap.Logger) *IdempotencyGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyGuard{store: store, ttl: ttl, logger: logger}
}

// Acquire claims key for operation. The returned finish func must be called
// with the outcome: a failed request releases the key so it can be retried.
// An empty key skips the check.
func (g *IdempotencyGuard) Acquire(ctx context.Context, operation string, tenantID uuid.UUID, key string) (func(ctx context.Context, succeeded bool), error) {
	noop := func(context.Context, bool) {}
	if g == nil || g.store == nil || key == "" {
		return noop, nil
	}

	full := fmt.Sprintf("%s:%s:%s", operation, tenantID, key)
	isNew, err := g.store.MarkProcessed(ctx, full, g.ttl)
	if err != nil {
		// The store being down must not block payments
		g.logger.Warn("idempotency store unavailable", zap.String("operation", operation), zap.Error(err))
		return noop, nil
	}
	if !isNew {
		return nil, shared.NewDomainError(shared.ErrDuplicateRequest.Code,
			fmt.Sprintf("A %s request with idempotency key %q was already processed", operation, key))
	}

	return func(ctx context.Context, succeeded bool) {
		if succeeded {
			return
		}
		if err := g.store.Release(ctx, full); err != nil {
			g.logger.Warn("failed to release idempotency key", zap.String("key", full), zap.Error(err))
		}
	}, nil
}
