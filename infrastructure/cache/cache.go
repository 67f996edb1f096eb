// Package cache provides the shared, TTL-governed room state: the
// serialized snapshot, the participant roster, and the pending-change
// queue. It is the single source of truth between the session manager
// and durable storage.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"flowsync/application/ports"
	"flowsync/domain/events"
	"flowsync/domain/flow"
)

// TTLs for the three per-room namespaces.
type TTLConfig struct {
	Snapshot time.Duration
	Roster   time.Duration
	Pending  time.Duration
}

// DefaultTTLConfig matches the production eviction policy.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Snapshot: 24 * time.Hour,
		Roster:   1 * time.Hour,
		Pending:  30 * time.Minute,
	}
}

type snapshotEntry struct {
	data      []byte // msgpack-encoded flow.Snapshot
	expiresAt time.Time
}

type rosterEntry struct {
	participants map[string]flow.Participant
	expiresAt    time.Time
}

type pendingEntry struct {
	changes   []events.Pending
	expiresAt time.Time
}

// MemoryCache is an in-process implementation of ports.RoomCache.
// Snapshots cross the boundary as msgpack bytes so cached state is a real
// serialization, not shared pointers into live graphs.
type MemoryCache struct {
	ttl TTLConfig

	mu        sync.RWMutex
	snapshots map[string]snapshotEntry
	rosters   map[string]*rosterEntry
	pending   map[string]*pendingEntry

	stop chan struct{}
	once sync.Once
}

var _ ports.RoomCache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache and starts its eviction janitor.
func NewMemoryCache(ttl TTLConfig) *MemoryCache {
	c := &MemoryCache{
		ttl:       ttl,
		snapshots: make(map[string]snapshotEntry),
		rosters:   make(map[string]*rosterEntry),
		pending:   make(map[string]*pendingEntry),
		stop:      make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Close stops the eviction janitor.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// GetSnapshot returns the cached snapshot or ports.ErrCacheMiss.
func (c *MemoryCache) GetSnapshot(_ context.Context, roomID string) (*flow.Snapshot, error) {
	c.mu.RLock()
	entry, ok := c.snapshots[roomID]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ports.ErrCacheMiss
	}
	var snapshot flow.Snapshot
	if err := msgpack.Unmarshal(entry.data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// SetSnapshot stores the snapshot and restarts its TTL.
func (c *MemoryCache) SetSnapshot(_ context.Context, snapshot *flow.Snapshot) error {
	data, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snapshots[snapshot.RoomID] = snapshotEntry{
		data:      data,
		expiresAt: time.Now().Add(c.ttl.Snapshot),
	}
	c.mu.Unlock()
	return nil
}

// UpsertParticipant writes one roster field; the map key guarantees a
// principal appears at most once. Every membership or cursor mutation
// refreshes the roster TTL.
func (c *MemoryCache) UpsertParticipant(_ context.Context, roomID string, p flow.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	roster, ok := c.rosters[roomID]
	if !ok || time.Now().After(roster.expiresAt) {
		roster = &rosterEntry{participants: make(map[string]flow.Participant)}
		c.rosters[roomID] = roster
	}
	roster.participants[p.UserID] = p
	roster.expiresAt = time.Now().Add(c.ttl.Roster)
	return nil
}

// RemoveParticipant drops one roster field.
func (c *MemoryCache) RemoveParticipant(_ context.Context, roomID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if roster, ok := c.rosters[roomID]; ok {
		delete(roster.participants, userID)
		roster.expiresAt = time.Now().Add(c.ttl.Roster)
		if len(roster.participants) == 0 {
			delete(c.rosters, roomID)
		}
	}
	return nil
}

// ListParticipants returns the current roster.
func (c *MemoryCache) ListParticipants(_ context.Context, roomID string) ([]flow.Participant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roster, ok := c.rosters[roomID]
	if !ok || time.Now().After(roster.expiresAt) {
		return []flow.Participant{}, nil
	}
	out := make([]flow.Participant, 0, len(roster.participants))
	for _, p := range roster.participants {
		out = append(out, p)
	}
	return out, nil
}

// AppendPendingChange appends atomically to the room's queue.
func (c *MemoryCache) AppendPendingChange(_ context.Context, roomID string, pending events.Pending) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[roomID]
	if !ok || time.Now().After(entry.expiresAt) {
		entry = &pendingEntry{}
		c.pending[roomID] = entry
	}
	entry.changes = append(entry.changes, pending)
	entry.expiresAt = time.Now().Add(c.ttl.Pending)
	return nil
}

// DrainPendingChanges atomically reads and clears the queue.
func (c *MemoryCache) DrainPendingChanges(_ context.Context, roomID string) ([]events.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[roomID]
	if !ok {
		return nil, nil
	}
	changes := entry.changes
	delete(c.pending, roomID)
	if time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return changes, nil
}

// PendingCount reports queue depth without draining.
func (c *MemoryCache) PendingCount(_ context.Context, roomID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.pending[roomID]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, nil
	}
	return len(entry.changes), nil
}

// ActiveRooms lists rooms with undrained changes.
func (c *MemoryCache) ActiveRooms(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	var rooms []string
	for roomID, entry := range c.pending {
		if now.Before(entry.expiresAt) && len(entry.changes) > 0 {
			rooms = append(rooms, roomID)
		}
	}
	return rooms, nil
}

// Cleanup removes all three namespaces for a room.
func (c *MemoryCache) Cleanup(_ context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, roomID)
	delete(c.rosters, roomID)
	delete(c.pending, roomID)
	return nil
}

func (c *MemoryCache) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *MemoryCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for roomID, entry := range c.snapshots {
		if now.After(entry.expiresAt) {
			delete(c.snapshots, roomID)
		}
	}
	for roomID, roster := range c.rosters {
		if now.After(roster.expiresAt) {
			delete(c.rosters, roomID)
		}
	}
	for roomID, entry := range c.pending {
		if now.After(entry.expiresAt) {
			delete(c.pending, roomID)
		}
	}
}
