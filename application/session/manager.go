// Package session implements the authoritative server side of a
// collaboration room: membership, message fan-out, and the cache-aside
// snapshot lifecycle.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowsync/application/ports"
	"flowsync/domain/events"
	"flowsync/domain/flow"
	"flowsync/infrastructure/observability"
	apperrors "flowsync/pkg/errors"
)

// conflictWindow bounds how close together two bulk replacements of the
// same collection must land, from different origins, to count as a
// conflict worth advising the room about.
const conflictWindow = 2 * time.Second

// Broadcaster fans a protocol message out to every participant of a room
// except the excluded one. An empty exclude reaches everyone.
type Broadcaster interface {
	Broadcast(roomID, excludeUserID, event string, payload any)
}

// Manager is the per-room authority. Mutations for one room are
// serialized through that room's lock; different rooms proceed in
// parallel.
type Manager struct {
	cache   ports.RoomCache
	store   ports.DurableStore
	authz   ports.Authorizer
	bc      Broadcaster
	logger  *zap.Logger
	metrics *observability.Collector

	mu    sync.Mutex
	rooms map[string]*roomState
}

type roomState struct {
	mu       sync.Mutex
	lastBulk map[events.ChangeType]bulkMark
}

type bulkMark struct {
	origin string
	at     time.Time
}

// NewManager wires the session manager to its collaborators.
func NewManager(
	cache ports.RoomCache,
	store ports.DurableStore,
	authz ports.Authorizer,
	bc Broadcaster,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Manager {
	return &Manager{
		cache:   cache,
		store:   store,
		authz:   authz,
		bc:      bc,
		logger:  logger,
		metrics: metrics,
		rooms:   make(map[string]*roomState),
	}
}

func (m *Manager) room(roomID string) *roomState {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		rs = &roomState{lastBulk: make(map[events.ChangeType]bulkMark)}
		m.rooms[roomID] = rs
	}
	return rs
}

// Join validates the principal's view rights, registers the participant,
// and returns the room snapshot plus the current roster. The join is
// fully atomic on failure: an unauthorized principal leaves no state and
// triggers no broadcast.
func (m *Manager) Join(ctx context.Context, roomID, principal, name string) (*flow.Snapshot, []flow.Participant, error) {
	if !m.authz.CanView(ctx, principal, roomID) {
		return nil, nil, apperrors.NewForbiddenError("no access to room")
	}

	rs := m.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	snapshot, cacheable, err := m.loadSnapshot(ctx, roomID, principal)
	if err != nil {
		return nil, nil, err
	}
	if cacheable {
		if err := m.cache.SetSnapshot(ctx, snapshot); err != nil {
			m.cacheDegraded("populate snapshot", roomID, err)
		}
	}

	role := flow.RoleViewer
	switch {
	case snapshot.OwnerID == principal:
		role = flow.RoleOwner
	case m.authz.CanEdit(ctx, principal, roomID):
		role = flow.RoleEditor
	}

	participant := flow.Participant{
		UserID:   principal,
		Name:     name,
		Role:     role,
		IsActive: true,
	}
	if err := m.cache.UpsertParticipant(ctx, roomID, participant); err != nil {
		m.cacheDegraded("upsert participant", roomID, err)
	}

	roster, err := m.cache.ListParticipants(ctx, roomID)
	if err != nil {
		m.cacheDegraded("list participants", roomID, err)
		roster = []flow.Participant{participant}
	}

	m.bc.Broadcast(roomID, principal, events.MsgParticipantJoined, events.ParticipantJoinedPayload{
		UserID:   participant.UserID,
		Name:     participant.Name,
		Role:     participant.Role,
		IsActive: true,
	})
	m.metrics.RoomJoins.Inc()
	m.logger.Info("participant joined room",
		zap.String("roomId", roomID),
		zap.String("userId", principal),
		zap.String("role", string(role)),
	)

	return snapshot, roster, nil
}

// Leave deregisters the participant and tells the rest of the room. The
// cached snapshot is deliberately left in place: a rejoin inside the TTL
// window should be instantaneous, and eviction is the TTL's job.
func (m *Manager) Leave(ctx context.Context, roomID, principal string) {
	rs := m.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := m.cache.RemoveParticipant(ctx, roomID, principal); err != nil {
		m.cacheDegraded("remove participant", roomID, err)
	}
	m.bc.Broadcast(roomID, principal, events.MsgParticipantLeft, events.ParticipantLeftPayload{UserID: principal})
	m.metrics.RoomLeaves.Inc()
	m.logger.Info("participant left room",
		zap.String("roomId", roomID),
		zap.String("userId", principal),
	)
}

// Publish applies a change event to the room's cached snapshot, enqueues
// it for the durable flush, and fans it out to every other participant.
// Concurrent bulk replacements are applied last-received-wins; when two
// land close together from different origins the room gets an advisory,
// never a rollback.
func (m *Manager) Publish(ctx context.Context, roomID string, ev events.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	if ev.Type == events.CursorMove {
		return m.UpdateCursor(ctx, roomID, ev.Origin, *ev.Cursor)
	}
	if !m.authz.CanEdit(ctx, ev.Origin, roomID) {
		return apperrors.NewForbiddenError("no edit rights on room")
	}

	rs := m.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	snapshot, cacheable, err := m.loadSnapshot(ctx, roomID, ev.Origin)
	if err != nil {
		return err
	}

	m.applyChange(roomID, snapshot, &ev)

	if conflict, ok := rs.markBulk(ev); ok {
		m.metrics.ConflictsDetected.Inc()
		m.logger.Warn("concurrent bulk replacement",
			zap.String("roomId", roomID),
			zap.String("type", string(ev.Type)),
			zap.String("origin", ev.Origin),
			zap.String("previousOrigin", conflict.origin),
		)
		m.bc.Broadcast(roomID, "", events.MsgOperationConflict, events.OperationConflictPayload{
			Type:       ev.Type,
			Timestamp:  time.Now().UTC(),
			Reason:     "two participants replaced the same collection at nearly the same time",
			Suggestion: "verify the latest state before continuing",
		})
	}

	if cacheable {
		if err := m.cache.SetSnapshot(ctx, snapshot); err != nil {
			m.cacheDegraded("set snapshot", roomID, err)
		}
		if err := m.cache.AppendPendingChange(ctx, roomID, events.Pending{Event: ev, ReceivedAt: time.Now().UTC()}); err != nil {
			m.cacheDegraded("append pending change", roomID, err)
		}
	} else if err := m.store.SaveRoomSnapshot(ctx, snapshot); err != nil {
		// Degraded mode writes straight through; best effort only.
		m.logger.Warn("degraded direct save failed", zap.String("roomId", roomID), zap.Error(err))
	}

	m.bc.Broadcast(roomID, ev.Origin, events.MsgFlowChange, events.FlowChangePayload{RoomID: roomID, Change: ev})
	return nil
}

// UpdateCursor refreshes the participant's roster entry and rebroadcasts
// the position. Rate limiting happened on the client; the server treats
// each update as cheap roster state.
func (m *Manager) UpdateCursor(ctx context.Context, roomID, principal string, pos flow.Position) error {
	rs := m.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	roster, err := m.cache.ListParticipants(ctx, roomID)
	if err != nil {
		m.cacheDegraded("list participants", roomID, err)
	}
	for _, p := range roster {
		if p.UserID != principal {
			continue
		}
		p.Cursor = &pos
		if err := m.cache.UpsertParticipant(ctx, roomID, p); err != nil {
			m.cacheDegraded("upsert participant", roomID, err)
		}
		break
	}

	m.bc.Broadcast(roomID, principal, events.MsgCursorMove, events.CursorBroadcastPayload{
		UserID: principal,
		Cursor: pos,
	})
	return nil
}

// Disconnect handles a transport-level drop; it is identical to Leave.
func (m *Manager) Disconnect(ctx context.Context, roomID, principal string) {
	m.Leave(ctx, roomID, principal)
}

// CloseRoom flushes the room durably and removes all cached state. Used
// when a room is explicitly closed rather than abandoned to the TTL.
func (m *Manager) CloseRoom(ctx context.Context, roomID string) error {
	rs := m.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	snapshot, err := m.cache.GetSnapshot(ctx, roomID)
	if err == nil {
		snapshot.LastSyncedAt = time.Now().UTC()
		if err := m.store.SaveRoomSnapshot(ctx, snapshot); err != nil {
			return apperrors.Wrap(err, "final flush on close")
		}
	} else if !errors.Is(err, ports.ErrCacheMiss) {
		m.cacheDegraded("get snapshot", roomID, err)
	}
	if err := m.cache.Cleanup(ctx, roomID); err != nil {
		m.cacheDegraded("cleanup", roomID, err)
	}

	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
	return nil
}

// loadSnapshot is the cache-aside read. The bool result reports whether
// the cache is usable for writes: a miss rebuilds from durable storage
// and should be populated, a cache error falls back to durable storage in
// degraded mode without populating.
func (m *Manager) loadSnapshot(ctx context.Context, roomID, principal string) (*flow.Snapshot, bool, error) {
	snapshot, err := m.cache.GetSnapshot(ctx, roomID)
	switch {
	case err == nil:
		m.metrics.CacheHits.Inc()
		return snapshot, true, nil
	case errors.Is(err, ports.ErrCacheMiss):
		m.metrics.CacheMisses.Inc()
		return m.loadFromStore(ctx, roomID, principal, true)
	default:
		m.cacheDegraded("get snapshot", roomID, err)
		return m.loadFromStore(ctx, roomID, principal, false)
	}
}

func (m *Manager) loadFromStore(ctx context.Context, roomID, principal string, cacheable bool) (*flow.Snapshot, bool, error) {
	snapshot, err := m.store.LoadRoomSnapshot(ctx, roomID)
	if err != nil {
		return nil, false, apperrors.Wrap(err, "load room snapshot")
	}
	if snapshot == nil {
		return flow.NewSnapshot(roomID, principal), cacheable, nil
	}
	// A snapshot from shared storage may carry a peer's unrepaired state.
	fixed, duplicated := flow.FixDuplicateIDs(snapshot.Graph.Nodes)
	if len(duplicated) > 0 {
		m.logger.Warn("repaired duplicate node ids on load",
			zap.String("roomId", roomID),
			zap.Strings("duplicates", duplicated),
		)
		snapshot.Graph.ReplaceNodes(fixed)
	}
	return snapshot, cacheable, nil
}

// applyChange folds the event into the snapshot. Bulk events replace the
// collection wholesale; granular events patch in place and tolerate
// absent targets.
func (m *Manager) applyChange(roomID string, snapshot *flow.Snapshot, ev *events.ChangeEvent) {
	switch ev.Type {
	case events.BulkNodes:
		fixed, duplicated := flow.FixDuplicateIDs(ev.Nodes)
		if len(duplicated) > 0 {
			m.logger.Warn("repaired duplicate node ids in bulk event",
				zap.String("roomId", roomID),
				zap.String("origin", ev.Origin),
				zap.Strings("duplicates", duplicated),
			)
			ev.Nodes = fixed
		}
		snapshot.Graph.ReplaceNodes(ev.Nodes)
		if pruned := snapshot.Graph.PruneDanglingEdges(); pruned > 0 {
			m.logger.Debug("pruned dangling edges", zap.String("roomId", roomID), zap.Int("count", pruned))
		}
	case events.GranularNodes:
		for _, p := range ev.NodePatches {
			snapshot.Graph.ApplyNodePatch(p)
		}
	case events.BulkEdges:
		snapshot.Graph.ReplaceEdges(ev.Edges)
		snapshot.Graph.PruneDanglingEdges()
	case events.GranularEdges:
		for _, p := range ev.EdgePatches {
			snapshot.Graph.ApplyEdgePatch(p)
		}
	case events.CursorMove:
		// Handled by UpdateCursor before reaching here.
	}
}

// markBulk records a bulk replacement and reports the previous mark when
// it came from a different origin inside the conflict window.
func (rs *roomState) markBulk(ev events.ChangeEvent) (bulkMark, bool) {
	if ev.Type != events.BulkNodes && ev.Type != events.BulkEdges {
		return bulkMark{}, false
	}
	now := time.Now()
	prev, had := rs.lastBulk[ev.Type]
	rs.lastBulk[ev.Type] = bulkMark{origin: ev.Origin, at: now}
	if had && prev.origin != ev.Origin && now.Sub(prev.at) < conflictWindow {
		return prev, true
	}
	return bulkMark{}, false
}

func (m *Manager) cacheDegraded(op, roomID string, err error) {
	m.metrics.CacheErrors.Inc()
	m.logger.Warn("cache degraded",
		zap.String("op", op),
		zap.String("roomId", roomID),
		zap.Error(err),
	)
}
