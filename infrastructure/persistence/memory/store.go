// Package memory holds an in-process DurableStore used by tests and
// development mode.
package memory

import (
	"context"
	"sync"

	"flowsync/application/ports"
	"flowsync/domain/flow"
)

// Store keeps snapshots in a map. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*flow.Snapshot

	// FailSaves makes every save return this error, for exercising the
	// flusher's retry path in tests.
	FailSaves error
}

var _ ports.DurableStore = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{snapshots: make(map[string]*flow.Snapshot)}
}

func (s *Store) LoadRoomSnapshot(_ context.Context, roomID string) (*flow.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[roomID]
	if !ok {
		return nil, nil
	}
	return snapshot.Clone(), nil
}

func (s *Store) SaveRoomSnapshot(_ context.Context, snapshot *flow.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves != nil {
		return s.FailSaves
	}
	s.snapshots[snapshot.RoomID] = snapshot.Clone()
	return nil
}
