package cache

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"flowsync/application/ports"
	"flowsync/domain/events"
	"flowsync/domain/flow"
	apperrors "flowsync/pkg/errors"
)

// BreakerCache wraps a RoomCache with a circuit breaker. While the
// breaker is open every operation fails fast with an UNAVAILABLE error;
// the session manager treats that as degraded mode and reads straight
// from durable storage. Cache misses are not failures.
type BreakerCache struct {
	inner  ports.RoomCache
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

var _ ports.RoomCache = (*BreakerCache)(nil)

// NewBreakerCache creates the breaker-wrapped cache.
func NewBreakerCache(inner ports.RoomCache, logger *zap.Logger) *BreakerCache {
	bc := &BreakerCache{inner: inner, logger: logger}
	bc.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "room-cache",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || err == ports.ErrCacheMiss
		},
	})
	return bc
}

func (b *BreakerCache) execute(op func() (any, error)) (any, error) {
	result, err := b.cb.Execute(op)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apperrors.NewUnavailableError("room cache").WithCause(err)
	}
	return result, err
}

func (b *BreakerCache) GetSnapshot(ctx context.Context, roomID string) (*flow.Snapshot, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.GetSnapshot(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*flow.Snapshot), nil
}

func (b *BreakerCache) SetSnapshot(ctx context.Context, snapshot *flow.Snapshot) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.SetSnapshot(ctx, snapshot)
	})
	return err
}

func (b *BreakerCache) UpsertParticipant(ctx context.Context, roomID string, p flow.Participant) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.UpsertParticipant(ctx, roomID, p)
	})
	return err
}

func (b *BreakerCache) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.RemoveParticipant(ctx, roomID, userID)
	})
	return err
}

func (b *BreakerCache) ListParticipants(ctx context.Context, roomID string) ([]flow.Participant, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.ListParticipants(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]flow.Participant), nil
}

func (b *BreakerCache) AppendPendingChange(ctx context.Context, roomID string, pending events.Pending) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.AppendPendingChange(ctx, roomID, pending)
	})
	return err
}

func (b *BreakerCache) DrainPendingChanges(ctx context.Context, roomID string) ([]events.Pending, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.DrainPendingChanges(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	pending, _ := result.([]events.Pending)
	return pending, nil
}

func (b *BreakerCache) PendingCount(ctx context.Context, roomID string) (int, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.PendingCount(ctx, roomID)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (b *BreakerCache) ActiveRooms(ctx context.Context) ([]string, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.ActiveRooms(ctx)
	})
	if err != nil {
		return nil, err
	}
	rooms, _ := result.([]string)
	return rooms, nil
}

func (b *BreakerCache) Cleanup(ctx context.Context, roomID string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Cleanup(ctx, roomID)
	})
	return err
}
