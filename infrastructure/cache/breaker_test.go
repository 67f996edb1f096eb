package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flowsync/application/ports"
	"flowsync/domain/flow"
	apperrors "flowsync/pkg/errors"
)

// brokenCache fails every operation, for driving the breaker open.
type brokenCache struct {
	ports.RoomCache
	err error
}

func (b *brokenCache) GetSnapshot(ctx context.Context, roomID string) (*flow.Snapshot, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.RoomCache.GetSnapshot(ctx, roomID)
}

func TestBreakerCache_PassesThroughWhenHealthy(t *testing.T) {
	inner := NewMemoryCache(DefaultTTLConfig())
	defer inner.Close()
	b := NewBreakerCache(inner, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.SetSnapshot(ctx, testSnapshot("room-1")))

	got, err := b.GetSnapshot(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", got.RoomID)
}

func TestBreakerCache_MissIsNotAFailure(t *testing.T) {
	inner := NewMemoryCache(DefaultTTLConfig())
	defer inner.Close()
	b := NewBreakerCache(inner, zap.NewNop())
	ctx := context.Background()

	// Far more misses than the trip threshold; the breaker must stay
	// closed because a miss is a normal outcome, not an outage.
	for i := 0; i < 20; i++ {
		_, err := b.GetSnapshot(ctx, "room-unknown")
		assert.ErrorIs(t, err, ports.ErrCacheMiss)
	}

	require.NoError(t, b.SetSnapshot(ctx, testSnapshot("room-1")))
	_, err := b.GetSnapshot(ctx, "room-1")
	assert.NoError(t, err)
}

func TestBreakerCache_OpensAfterRepeatedFailures(t *testing.T) {
	inner := NewMemoryCache(DefaultTTLConfig())
	defer inner.Close()
	broken := &brokenCache{RoomCache: inner, err: errors.New("backend gone")}
	b := NewBreakerCache(broken, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		b.GetSnapshot(ctx, "room-1")
	}

	_, err := b.GetSnapshot(ctx, "room-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err),
		"an open breaker fails fast with an unavailable error")
}
