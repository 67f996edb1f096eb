// Package ports declares the interfaces the application layer depends on.
// Infrastructure packages provide the implementations; the session manager
// and flusher only ever see these contracts.
package ports

import (
	"context"
	"errors"

	"flowsync/domain/events"
	"flowsync/domain/flow"
)

// DurableStore persists room snapshots. Save replaces the whole snapshot
// for a room, so retried flushes are idempotent.
type DurableStore interface {
	// LoadRoomSnapshot returns nil with no error when the room has never
	// been persisted.
	LoadRoomSnapshot(ctx context.Context, roomID string) (*flow.Snapshot, error)
	SaveRoomSnapshot(ctx context.Context, snapshot *flow.Snapshot) error
}

// Authorizer answers room capability questions for a principal. The
// mechanics of authentication live outside this service.
type Authorizer interface {
	CanEdit(ctx context.Context, principal, roomID string) bool
	CanView(ctx context.Context, principal, roomID string) bool
}

// RoomCache is the shared, TTL-governed state visible to every process
// handling a room: the snapshot, the participant roster, and the queue of
// changes pending a durable flush. Implementations must make every
// mutation an idempotent overwrite or an atomic collection operation;
// callers never read-modify-write through this interface except where the
// session manager's per-room serialization already prevents the race.
type RoomCache interface {
	GetSnapshot(ctx context.Context, roomID string) (*flow.Snapshot, error)
	SetSnapshot(ctx context.Context, snapshot *flow.Snapshot) error

	UpsertParticipant(ctx context.Context, roomID string, p flow.Participant) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	ListParticipants(ctx context.Context, roomID string) ([]flow.Participant, error)

	AppendPendingChange(ctx context.Context, roomID string, pending events.Pending) error
	// DrainPendingChanges atomically reads and clears the pending queue.
	DrainPendingChanges(ctx context.Context, roomID string) ([]events.Pending, error)
	// PendingCount reports queue depth without draining it.
	PendingCount(ctx context.Context, roomID string) (int, error)

	// ActiveRooms lists rooms that currently hold undrained changes.
	ActiveRooms(ctx context.Context) ([]string, error)
	// Cleanup removes all three namespaces for an explicitly closed room.
	Cleanup(ctx context.Context, roomID string) error
}

// ErrCacheMiss is returned by GetSnapshot when no snapshot is cached,
// so callers can tell a miss from an unavailable cache.
var ErrCacheMiss = errors.New("cache miss")
