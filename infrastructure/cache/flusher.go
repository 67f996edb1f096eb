package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"flowsync/application/ports"
	"flowsync/domain/events"
	"flowsync/infrastructure/observability"
)

// DefaultFlushInterval is how often pending changes are flushed durably.
const DefaultFlushInterval = 30 * time.Second

// Flusher is the durability bridge: a periodic task that writes each
// active room's current snapshot to the durable store and then drains
// that room's pending-change queue. The queue is only cleared after a
// successful save, so a failed flush retries on the next tick
// (at-least-once; the save is an idempotent snapshot replacement).
type Flusher struct {
	cache    ports.RoomCache
	store    ports.DurableStore
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Collector
}

// NewFlusher creates the durability bridge.
func NewFlusher(
	cache ports.RoomCache,
	store ports.DurableStore,
	interval time.Duration,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Flusher{
		cache:    cache,
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run flushes on a fixed interval until the context is cancelled, then
// performs one final flush so a clean shutdown loses nothing.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.FlushAll(context.Background())
			return
		case <-ticker.C:
			f.FlushAll(ctx)
		}
	}
}

// FlushAll flushes every room that has pending changes.
func (f *Flusher) FlushAll(ctx context.Context) {
	rooms, err := f.cache.ActiveRooms(ctx)
	if err != nil {
		f.logger.Warn("flush skipped, cache unavailable", zap.Error(err))
		return
	}
	for _, roomID := range rooms {
		if err := f.FlushRoom(ctx, roomID); err != nil {
			f.metrics.FlushFailures.Inc()
			f.logger.Warn("room flush failed, will retry",
				zap.String("roomId", roomID),
				zap.Error(err),
			)
		}
	}
}

// FlushRoom saves one room's snapshot and accounts for its queue.
//
// The queue is drained before the snapshot is read: a publish that lands
// mid-flush then re-queues behind this batch and keeps the room active
// for the next tick, whichever side of the snapshot read it hit.
// The cached snapshot is never written back here; the flusher runs
// outside the room's serialization and a write-back would overwrite a
// concurrent publish. LastSyncedAt is stamped on the durable copy only.
func (f *Flusher) FlushRoom(ctx context.Context, roomID string) error {
	drained, err := f.cache.DrainPendingChanges(ctx, roomID)
	if err != nil {
		return err
	}

	snapshot, err := f.cache.GetSnapshot(ctx, roomID)
	if errors.Is(err, ports.ErrCacheMiss) {
		// Snapshot evicted before its queue: nothing authoritative left
		// to persist, the stale queue entries stay dropped.
		return nil
	}
	if err != nil {
		f.requeue(ctx, roomID, drained)
		return err
	}

	snapshot.LastSyncedAt = time.Now().UTC()
	if err := f.store.SaveRoomSnapshot(ctx, snapshot); err != nil {
		f.requeue(ctx, roomID, drained)
		return err
	}

	f.metrics.FlushSuccess.Inc()
	f.metrics.FlushedEvents.Add(float64(len(drained)))
	f.logger.Debug("room flushed",
		zap.String("roomId", roomID),
		zap.Int("drainedEvents", len(drained)),
	)
	return nil
}

// requeue restores drained entries after a failed save so the room stays
// active and the next tick retries.
func (f *Flusher) requeue(ctx context.Context, roomID string, drained []events.Pending) {
	for _, pending := range drained {
		if err := f.cache.AppendPendingChange(ctx, roomID, pending); err != nil {
			f.logger.Warn("failed to restore pending queue after flush error",
				zap.String("roomId", roomID),
				zap.Error(err),
			)
			return
		}
	}
}
