package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	defer store.Close()

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "execute:abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "execute:abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew)

	seen, err := store.IsProcessed(ctx, "execute:abc")
	require.NoError(t, err)
	assert.True(t, seen)

	t.Run("expired keys can be reused", func(t *testing.T) {
		clock = clock.Add(2 * time.Hour)
		seen, err := store.IsProcessed(ctx, "execute:abc")
		require.NoError(t, err)
		assert.False(t, seen)

		isNew, err := store.MarkProcessed(ctx, "execute:abc", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)
	})

	t.Run("release forgets the key", func(t *testing.T) {
		require.NoError(t, store.Release(ctx, "execute:abc"))
		isNew, err := store.MarkProcessed(ctx, "execute:abc", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)
	})

	t.Run("sweep drops expired keys", func(t *testing.T) {
		_, _ = store.MarkProcessed(ctx, "short", time.Minute)
		clock = clock.Add(90 * time.Minute)
		store.sweep()
		assert.Equal(t, 0, store.Size())
	})
}

func TestInMemoryIdempotencyStore_ConcurrentMark(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkProcessed(context.Background(), "import:1", time.Hour)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.NoError(t, store.Close())
}
