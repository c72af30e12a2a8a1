package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIdempotencyStore struct {
	mock.Mock
}

func (m *mockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockIdempotencyStore) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockIdempotencyStore) Close() error { return nil }

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	evt := newTestEvent("PaymentAllocated")
	key := "event:" + evt.EventID().String()

	store := new(mockIdempotencyStore)
	store.On("MarkProcessed", mock.Anything, key, time.Hour).Return(true, nil).Once()
	store.On("MarkProcessed", mock.Anything, key, time.Hour).Return(false, nil).Once()

	inner := newTestHandler("PaymentAllocated")
	h := NewIdempotentHandler(inner, store, time.Hour, nil)

	require.NoError(t, h.Handle(context.Background(), evt))
	require.NoError(t, h.Handle(context.Background(), evt))

	assert.Equal(t, 1, inner.count())
	assert.Equal(t, IdempotencyStats{Processed: 1, Duplicate: 1}, h.Stats())
	assert.Equal(t, []string{"PaymentAllocated"}, h.EventTypes())
	store.AssertExpectations(t)
}

func TestIdempotentHandler_ReleasesKeyOnFailure(t *testing.T) {
	evt := newTestEvent("PaymentAllocated")
	key := "event:" + evt.EventID().String()

	store := new(mockIdempotencyStore)
	store.On("MarkProcessed", mock.Anything, key, DefaultEventTTL).Return(true, nil)
	store.On("Release", mock.Anything, key).Return(nil)

	inner := newTestHandler("PaymentAllocated")
	inner.err = errors.New("insert failed")
	h := NewIdempotentHandler(inner, store, 0, nil)

	err := h.Handle(context.Background(), evt)
	assert.EqualError(t, err, "insert failed")
	assert.Equal(t, int64(1), h.Stats().Failed)
	store.AssertExpectations(t)
}

func TestIdempotentHandler_StoreErrorStillHandles(t *testing.T) {
	evt := newTestEvent("PaymentAllocated")
	store := new(mockIdempotencyStore)
	store.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))

	inner := newTestHandler("PaymentAllocated")
	h := NewIdempotentHandler(inner, store, time.Minute, nil)

	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, 1, inner.count())
}
