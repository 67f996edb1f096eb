// Package client holds the client-side reconciliation store: one room
// connection's merged view of local optimistic edits and remote events.
package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"flowsync/application/classify"
	"flowsync/application/presence"
	"flowsync/domain/events"
	"flowsync/domain/flow"
	apperrors "flowsync/pkg/errors"
)

// ConnState is the room connection lifecycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateJoining      ConnState = "joining"
	StateSynced       ConnState = "synced"
	StateReconnecting ConnState = "reconnecting"
)

// Sender is the outbound half of the room channel.
type Sender interface {
	SendJoin(roomID, token string) error
	SendLeave(roomID string) error
	SendChange(roomID string, ev events.ChangeEvent) error
	SendCursor(roomID string, pos flow.Position) error
}

// NotificationKind tags what changed for observers.
type NotificationKind string

const (
	NotifyGraph    NotificationKind = "graph"
	NotifyRoster   NotificationKind = "roster"
	NotifyState    NotificationKind = "state"
	NotifyConflict NotificationKind = "conflict"
	NotifyError    NotificationKind = "error"
)

// Notification is delivered to subscribers after each applied mutation.
type Notification struct {
	Kind     NotificationKind
	State    ConnState
	Conflict *events.OperationConflictPayload
	Err      error
}

// DefaultJoinTimeout bounds how long a join attempt waits for the room
// snapshot before it is abandoned.
const DefaultJoinTimeout = 10 * time.Second

// Store applies every local mutation immediately (optimistic) and queues
// its transmission per the classifier; every inbound remote event goes
// through the same merge path, with self-echo discarded by origin id.
type Store struct {
	origin string
	sender Sender
	logger *zap.Logger

	mu        sync.Mutex
	state     ConnState
	roomID    string
	graph     flow.Graph
	roster    map[string]flow.Participant
	observers map[int]func(Notification)
	nextObs   int
	joinTimer *time.Timer

	joinTimeout time.Duration

	debouncer *classify.Debouncer[events.ChangeEvent]
	cursors   *presence.CursorBatcher
}

// New creates a store identified by origin, the client's connection
// identity used for self-echo suppression.
func New(origin string, sender Sender, logger *zap.Logger) *Store {
	return NewWithWindows(origin, sender, logger, classify.NetworkDebounceWindow, presence.Window)
}

// NewWithWindows allows tests to shrink the timer windows.
func NewWithWindows(origin string, sender Sender, logger *zap.Logger, debounceWindow, cursorWindow time.Duration) *Store {
	s := &Store{
		origin:      origin,
		sender:      sender,
		logger:      logger,
		state:       StateDisconnected,
		graph:       flow.NewGraph(),
		roster:      make(map[string]flow.Participant),
		observers:   make(map[int]func(Notification)),
		joinTimeout: DefaultJoinTimeout,
	}
	s.debouncer = classify.NewDebouncer[events.ChangeEvent](debounceWindow, s.emitDebounced)
	s.cursors = presence.NewCursorBatcherWindow(cursorWindow, func(roomID, _ string, pos flow.Position) {
		if err := s.sender.SendCursor(roomID, pos); err != nil {
			s.logger.Debug("cursor send failed", zap.Error(err))
		}
	})
	return s
}

// State returns the connection state.
func (s *Store) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Graph returns a copy of the current merged graph.
func (s *Store) Graph() flow.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Clone()
}

// Roster returns the known participants.
func (s *Store) Roster() []flow.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flow.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, p)
	}
	return out
}

// Subscribe registers an observer; the returned function unsubscribes.
func (s *Store) Subscribe(fn func(Notification)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Connect starts a join attempt. Editing stays disabled until the
// snapshot and roster arrive. The attempt is bounded: if room_joined
// never comes back within the join timeout, the store drops to
// Disconnected and observers get the error.
func (s *Store) Connect(roomID, token string) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateReconnecting {
		s.mu.Unlock()
		return apperrors.NewConflictError("already connected")
	}
	s.state = StateConnecting
	s.roomID = roomID
	s.mu.Unlock()
	s.notify(Notification{Kind: NotifyState, State: StateConnecting})

	// Joining is entered before the send: a fast transport can deliver
	// room_joined synchronously inside SendJoin, and the Synced it
	// produces must not be overwritten afterwards.
	s.transition(StateJoining)
	if err := s.sender.SendJoin(roomID, token); err != nil {
		s.transition(StateDisconnected)
		return apperrors.Wrap(err, "join send failed")
	}

	s.mu.Lock()
	if s.state == StateJoining {
		s.joinTimer = time.AfterFunc(s.joinTimeout, func() { s.abortJoin(roomID) })
	}
	s.mu.Unlock()
	return nil
}

// abortJoin gives up on an unanswered join attempt.
func (s *Store) abortJoin(roomID string) {
	s.mu.Lock()
	if s.state != StateJoining || s.roomID != roomID {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.joinTimer = nil
	s.mu.Unlock()
	s.notify(Notification{
		Kind:  NotifyError,
		State: StateDisconnected,
		Err:   apperrors.NewUnavailableError("room join timed out"),
	})
	s.notify(Notification{Kind: NotifyState, State: StateDisconnected})
}

// stopJoinTimer cancels a pending join deadline. Callers hold s.mu.
func (s *Store) stopJoinTimer() {
	if s.joinTimer != nil {
		s.joinTimer.Stop()
		s.joinTimer = nil
	}
}

// HandleRoomJoined finishes the join. The incoming bulk state may already
// carry a remote peer's unrepaired duplicates, so it runs through the
// collision fixer before it becomes local truth.
func (s *Store) HandleRoomJoined(payload events.RoomJoinedPayload) {
	s.mu.Lock()
	graph := payload.FlowData
	fixed, duplicated := flow.FixDuplicateIDs(graph.Nodes)
	if len(duplicated) > 0 {
		s.logger.Warn("repaired duplicate node ids in join snapshot", zap.Strings("duplicates", duplicated))
	}
	graph.ReplaceNodes(fixed)
	s.graph = graph
	s.roster = make(map[string]flow.Participant, len(payload.Participants))
	for _, p := range payload.Participants {
		s.roster[p.UserID] = p
	}
	s.state = StateSynced
	s.stopJoinTimer()
	s.mu.Unlock()
	s.notify(Notification{Kind: NotifyState, State: StateSynced})
	s.notify(Notification{Kind: NotifyGraph})
}

// Leave tells the server goodbye and cancels every pending timer so no
// stale event is emitted into a dead channel.
func (s *Store) Leave() {
	s.mu.Lock()
	roomID := s.roomID
	s.stopJoinTimer()
	s.mu.Unlock()
	if roomID == "" {
		return
	}
	s.debouncer.CancelRoom(roomID)
	s.cursors.StopRoom(roomID)
	if err := s.sender.SendLeave(roomID); err != nil {
		s.logger.Debug("leave send failed", zap.Error(err))
	}
	s.transition(StateDisconnected)
}

// HandleDisconnect reacts to transport loss: timers are cancelled and a
// fresh Connect must re-establish full state. There is no partial-session
// resume.
func (s *Store) HandleDisconnect() {
	s.mu.Lock()
	roomID := s.roomID
	s.stopJoinTimer()
	s.mu.Unlock()
	if roomID != "" {
		s.debouncer.CancelRoom(roomID)
		s.cursors.StopRoom(roomID)
	}
	s.transition(StateReconnecting)
}

// --- local mutations -------------------------------------------------

// AddNode appends a node and transmits the full node set immediately.
func (s *Store) AddNode(node flow.Node) error {
	return s.mutate(classify.OpAddNode, func() events.ChangeEvent {
		s.graph.Nodes = append(s.graph.Nodes, node)
		return events.NewBulkNodes(s.origin, s.graph.Clone().Nodes)
	})
}

// RemoveNode deletes a node and transmits immediately. Any debounced edit
// still pending against the node is left to fire; it lands as a harmless
// no-op patch.
func (s *Store) RemoveNode(nodeID string) error {
	return s.mutate(classify.OpRemoveNode, func() events.ChangeEvent {
		kept := s.graph.Nodes[:0]
		for _, n := range s.graph.Nodes {
			if n.ID != nodeID {
				kept = append(kept, n)
			}
		}
		s.graph.Nodes = kept
		s.graph.PruneDanglingEdges()
		return events.NewBulkNodes(s.origin, s.graph.Clone().Nodes)
	})
}

// MoveNode updates a node position optimistically; transmission is
// debounced per node.
func (s *Store) MoveNode(nodeID string, pos flow.Position) error {
	patch := flow.NodePatch{ID: nodeID, Position: &pos}
	return s.mutateDebounced(classify.OpMoveNode, "move:"+nodeID, patch)
}

// ResizeNode updates node dimensions, debounced per node.
func (s *Store) ResizeNode(nodeID string, width, height float64) error {
	patch := flow.NodePatch{ID: nodeID, Width: &width, Height: &height}
	return s.mutateDebounced(classify.OpResizeNode, "resize:"+nodeID, patch)
}

// EditNodeField updates one data field, debounced per node and field.
func (s *Store) EditNodeField(nodeID, field string, value any) error {
	patch := flow.NodePatch{ID: nodeID, Data: map[string]any{field: value}}
	return s.mutateDebounced(classify.OpEditField, "field:"+nodeID+":"+field, patch)
}

// ConnectNodes adds an edge and transmits the full edge set immediately.
func (s *Store) ConnectNodes(edge flow.Edge) error {
	return s.mutate(classify.OpConnectNodes, func() events.ChangeEvent {
		s.graph.Edges = append(s.graph.Edges, edge)
		return events.NewBulkEdges(s.origin, append([]flow.Edge(nil), s.graph.Edges...))
	})
}

// RemoveEdge deletes an edge and transmits immediately.
func (s *Store) RemoveEdge(edgeID string) error {
	return s.mutate(classify.OpRemoveEdge, func() events.ChangeEvent {
		kept := s.graph.Edges[:0]
		for _, e := range s.graph.Edges {
			if e.ID != edgeID {
				kept = append(kept, e)
			}
		}
		s.graph.Edges = kept
		return events.NewBulkEdges(s.origin, append([]flow.Edge(nil), s.graph.Edges...))
	})
}

// ClearGraph wipes both collections and transmits immediately.
func (s *Store) ClearGraph() error {
	if err := s.mutate(classify.OpClearGraph, func() events.ChangeEvent {
		s.graph.ReplaceNodes(nil)
		return events.NewBulkNodes(s.origin, []flow.Node{})
	}); err != nil {
		return err
	}
	return s.mutate(classify.OpClearGraph, func() events.ChangeEvent {
		s.graph.ReplaceEdges(nil)
		return events.NewBulkEdges(s.origin, []flow.Edge{})
	})
}

// MoveCursor records a pointer position for batched transmission.
func (s *Store) MoveCursor(pos flow.Position) {
	s.mu.Lock()
	roomID := s.roomID
	synced := s.state == StateSynced
	s.mu.Unlock()
	if synced {
		s.cursors.Move(roomID, s.origin, pos)
	}
}

// --- remote events ---------------------------------------------------

// ApplyRemote merges an inbound change event. Events originating from
// this connection are discarded: the local copy already reflects them.
func (s *Store) ApplyRemote(ev events.ChangeEvent) {
	if ev.Origin == s.origin {
		return
	}
	s.mu.Lock()
	switch ev.Type {
	case events.BulkNodes:
		// A remote peer's bulk state might be corrupted by its own race.
		fixed, duplicated := flow.FixDuplicateIDs(ev.Nodes)
		if len(duplicated) > 0 {
			s.logger.Warn("repaired duplicate node ids in remote event", zap.Strings("duplicates", duplicated))
		}
		s.graph.ReplaceNodes(fixed)
		s.graph.PruneDanglingEdges()
	case events.GranularNodes:
		for _, p := range ev.NodePatches {
			s.graph.ApplyNodePatch(p)
		}
	case events.BulkEdges:
		s.graph.ReplaceEdges(ev.Edges)
		s.graph.PruneDanglingEdges()
	case events.GranularEdges:
		for _, p := range ev.EdgePatches {
			s.graph.ApplyEdgePatch(p)
		}
	case events.CursorMove:
		if p, ok := s.roster[ev.Origin]; ok && ev.Cursor != nil {
			p.Cursor = ev.Cursor
			s.roster[ev.Origin] = p
		}
	}
	s.mu.Unlock()
	s.notify(Notification{Kind: NotifyGraph})
}

// HandleParticipantJoined merges a roster addition.
func (s *Store) HandleParticipantJoined(p events.ParticipantJoinedPayload) {
	s.mu.Lock()
	s.roster[p.UserID] = flow.Participant{
		UserID:   p.UserID,
		Name:     p.Name,
		Role:     p.Role,
		IsActive: p.IsActive,
	}
	s.mu.Unlock()
	s.notify(Notification{Kind: NotifyRoster})
}

// HandleParticipantLeft removes a roster entry.
func (s *Store) HandleParticipantLeft(p events.ParticipantLeftPayload) {
	s.mu.Lock()
	delete(s.roster, p.UserID)
	s.mu.Unlock()
	s.notify(Notification{Kind: NotifyRoster})
}

// HandleConflict surfaces an operation_conflict advisory to observers.
func (s *Store) HandleConflict(p events.OperationConflictPayload) {
	s.notify(Notification{Kind: NotifyConflict, Conflict: &p})
}

// --- internals -------------------------------------------------------

// mutate runs an immediate (bulk) local mutation under the lock and
// transmits its event right away.
func (s *Store) mutate(op classify.Operation, apply func() events.ChangeEvent) error {
	decision := classify.Classify(op)
	s.mu.Lock()
	if s.state != StateSynced {
		s.mu.Unlock()
		return apperrors.NewConflictError("room not synced, editing disabled")
	}
	roomID := s.roomID
	ev := apply()
	s.mu.Unlock()
	s.notify(Notification{Kind: NotifyGraph})

	if decision.Urgency != classify.UrgencyImmediate {
		return nil
	}
	if err := s.sender.SendChange(roomID, ev); err != nil {
		return apperrors.Wrap(err, "change send failed")
	}
	return nil
}

// mutateDebounced applies a granular patch optimistically and schedules
// its transmission.
func (s *Store) mutateDebounced(op classify.Operation, target string, patch flow.NodePatch) error {
	s.mu.Lock()
	if s.state != StateSynced {
		s.mu.Unlock()
		return apperrors.NewConflictError("room not synced, editing disabled")
	}
	roomID := s.roomID
	s.graph.ApplyNodePatch(patch)
	s.mu.Unlock()
	s.notify(Notification{Kind: NotifyGraph})

	if classify.Classify(op).Urgency == classify.UrgencyDebounced {
		s.debouncer.Update(classify.Key{RoomID: roomID, Target: target}, events.NewGranularNodes(s.origin, patch))
	}
	return nil
}

func (s *Store) emitDebounced(key classify.Key, ev events.ChangeEvent) {
	if err := s.sender.SendChange(key.RoomID, ev); err != nil {
		s.logger.Debug("debounced send failed", zap.Error(err))
	}
}

func (s *Store) transition(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notify(Notification{Kind: NotifyState, State: state})
}

func (s *Store) notify(n Notification) {
	s.mu.Lock()
	observers := make([]func(Notification), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()
	for _, fn := range observers {
		fn(n)
	}
}
