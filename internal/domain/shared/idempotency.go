package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers request keys that were already handled
type IdempotencyStore interface {
	// MarkProcessed records key with a TTL.
	// Returns true if the key was newly recorded, false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether key has been recorded
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release forgets key so a failed request can be retried with it
	Release(ctx context.Context, key string) error

	Close() error
}
