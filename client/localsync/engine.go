package localsync

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"flowsync/application/classify"
	"flowsync/domain/events"
	"flowsync/domain/flow"
)

// localRoom keys the engine's debouncer; every engine edits exactly one
// shared graph.
const localRoom = "local"

// Engine keeps one tab's graph in sync with its siblings. A peer applies
// an incoming commit only when it is strictly newer than the last applied
// one and comes from another session; structural commits go out
// immediately, continuous edits after the local debounce window.
type Engine struct {
	sessionID string
	transport LocalTransport
	logger    *zap.Logger

	mu          sync.Mutex
	graph       flow.Graph
	lastApplied int64
	observers   map[int]func(flow.Graph)
	nextObs     int

	debouncer   *classify.Debouncer[flow.NodePatch]
	unsubscribe func()
	clock       func() int64
}

// NewEngine creates an engine with a fresh session id and subscribes it
// to the transport.
func NewEngine(transport LocalTransport, logger *zap.Logger) *Engine {
	return NewEngineWindow(transport, logger, classify.LocalDebounceWindow)
}

// NewEngineWindow lets tests shrink the debounce window.
func NewEngineWindow(transport LocalTransport, logger *zap.Logger, window time.Duration) *Engine {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	e := &Engine{
		sessionID: ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String(),
		transport: transport,
		logger:    logger,
		graph:     flow.NewGraph(),
		observers: make(map[int]func(flow.Graph)),
		clock:     func() int64 { return time.Now().UnixNano() },
	}
	e.debouncer = classify.NewDebouncer[flow.NodePatch](window, e.emitDebounced)
	e.unsubscribe = transport.Subscribe(e.receive)
	return e
}

// SessionID returns this tab's identity.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Graph returns a copy of the current merged graph.
func (e *Engine) Graph() flow.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Clone()
}

// Subscribe registers a graph observer; the returned function
// unsubscribes.
func (e *Engine) Subscribe(fn func(flow.Graph)) func() {
	e.mu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// Close cancels pending timers and detaches from the transport.
func (e *Engine) Close() error {
	e.debouncer.Stop()
	e.unsubscribe()
	return e.transport.Close()
}

// AddNode appends a node and commits immediately.
func (e *Engine) AddNode(node flow.Node) {
	e.mu.Lock()
	e.graph.Nodes = append(e.graph.Nodes, node)
	nodes := e.graph.Clone().Nodes
	e.mu.Unlock()
	e.notifyObservers()
	e.commit(events.NewBulkNodes(e.sessionID, nodes), nil)
}

// RemoveNode deletes a node and commits immediately with a tombstone so
// peers do not resurrect it during merge.
func (e *Engine) RemoveNode(nodeID string) {
	e.mu.Lock()
	kept := e.graph.Nodes[:0]
	for _, n := range e.graph.Nodes {
		if n.ID != nodeID {
			kept = append(kept, n)
		}
	}
	e.graph.Nodes = kept
	e.graph.PruneDanglingEdges()
	nodes := e.graph.Clone().Nodes
	e.mu.Unlock()
	e.notifyObservers()
	e.commit(events.NewBulkNodes(e.sessionID, nodes), []string{nodeID})
}

// ConnectNodes adds an edge and commits immediately.
func (e *Engine) ConnectNodes(edge flow.Edge) {
	e.mu.Lock()
	e.graph.Edges = append(e.graph.Edges, edge)
	edges := append([]flow.Edge(nil), e.graph.Edges...)
	e.mu.Unlock()
	e.notifyObservers()
	e.commit(events.NewBulkEdges(e.sessionID, edges), nil)
}

// RemoveEdge deletes an edge and commits immediately with a tombstone.
func (e *Engine) RemoveEdge(edgeID string) {
	e.mu.Lock()
	kept := e.graph.Edges[:0]
	for _, edge := range e.graph.Edges {
		if edge.ID != edgeID {
			kept = append(kept, edge)
		}
	}
	e.graph.Edges = kept
	edges := append([]flow.Edge(nil), e.graph.Edges...)
	e.mu.Unlock()
	e.notifyObservers()
	e.commit(events.NewBulkEdges(e.sessionID, edges), []string{edgeID})
}

// MoveNode applies a position change optimistically and commits it after
// the debounce window.
func (e *Engine) MoveNode(nodeID string, pos flow.Position) {
	patch := flow.NodePatch{ID: nodeID, Position: &pos}
	e.applyDebounced("move:"+nodeID, patch)
}

// EditNodeField applies a field change optimistically and commits it
// after the debounce window.
func (e *Engine) EditNodeField(nodeID, field string, value any) {
	patch := flow.NodePatch{ID: nodeID, Data: map[string]any{field: value}}
	e.applyDebounced("field:"+nodeID+":"+field, patch)
}

func (e *Engine) applyDebounced(target string, patch flow.NodePatch) {
	e.mu.Lock()
	e.graph.ApplyNodePatch(patch)
	e.mu.Unlock()
	e.notifyObservers()
	e.debouncer.Update(classify.Key{RoomID: localRoom, Target: target}, patch)
}

func (e *Engine) emitDebounced(_ classify.Key, patch flow.NodePatch) {
	e.commit(events.NewGranularNodes(e.sessionID, patch), nil)
}

func (e *Engine) commit(ev events.ChangeEvent, removed []string) {
	c := Commit{
		Timestamp: e.clock(),
		Origin:    e.sessionID,
		Event:     ev,
		Removed:   removed,
	}
	if err := e.transport.Publish(c); err != nil {
		e.logger.Warn("local commit publish failed", zap.Error(err))
	}
}

// receive applies a peer's commit under the last-write-wins rule.
func (e *Engine) receive(c Commit) {
	if c.Origin == e.sessionID {
		return
	}
	e.mu.Lock()
	if c.Timestamp <= e.lastApplied {
		e.mu.Unlock()
		return
	}
	e.lastApplied = c.Timestamp

	switch c.Event.Type {
	case events.BulkNodes:
		e.graph.ReplaceNodes(e.mergeNodes(c.Event.Nodes, c.Removed))
		e.graph.PruneDanglingEdges()
	case events.GranularNodes:
		for _, p := range c.Event.NodePatches {
			e.graph.ApplyNodePatch(p)
		}
	case events.BulkEdges:
		e.graph.ReplaceEdges(e.mergeEdges(c.Event.Edges, c.Removed))
		e.graph.PruneDanglingEdges()
	case events.GranularEdges:
		for _, p := range c.Event.EdgePatches {
			e.graph.ApplyEdgePatch(p)
		}
	case events.CursorMove:
		// Cursor presence is not shared between local tabs.
	}
	e.mu.Unlock()
	e.notifyObservers()
}

// mergeNodes unions the incoming commit with local nodes the peer has not
// seen yet, so two tabs adding nodes in the same sync cycle both survive.
// Tombstoned ids stay deleted, and id collisions between concurrently
// created nodes are repaired instead of silently overwriting one of them.
func (e *Engine) mergeNodes(incoming []flow.Node, removed []string) []flow.Node {
	tombstones := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		tombstones[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(incoming))
	merged := make([]flow.Node, 0, len(incoming)+len(e.graph.Nodes))
	for _, n := range incoming {
		if _, gone := tombstones[n.ID]; gone {
			continue
		}
		seen[n.ID] = struct{}{}
		merged = append(merged, n)
	}
	for _, n := range e.graph.Nodes {
		if _, gone := tombstones[n.ID]; gone {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			// Same id on both sides: assume the same logical node unless
			// the contents differ, in which case keep both and let the
			// collision fixer rename the local copy.
			if incomingEqual(incoming, n) {
				continue
			}
		}
		merged = append(merged, n)
	}
	fixed, duplicated := flow.FixDuplicateIDs(merged)
	if len(duplicated) > 0 {
		e.logger.Warn("repaired duplicate node ids during tab merge", zap.Strings("duplicates", duplicated))
	}
	return fixed
}

func (e *Engine) mergeEdges(incoming []flow.Edge, removed []string) []flow.Edge {
	tombstones := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		tombstones[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(incoming))
	merged := make([]flow.Edge, 0, len(incoming)+len(e.graph.Edges))
	for _, edge := range incoming {
		if _, gone := tombstones[edge.ID]; gone {
			continue
		}
		seen[edge.ID] = struct{}{}
		merged = append(merged, edge)
	}
	for _, edge := range e.graph.Edges {
		if _, gone := tombstones[edge.ID]; gone {
			continue
		}
		if _, dup := seen[edge.ID]; dup {
			continue
		}
		merged = append(merged, edge)
	}
	return merged
}

func (e *Engine) notifyObservers() {
	e.mu.Lock()
	graph := e.graph.Clone()
	observers := make([]func(flow.Graph), 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	e.mu.Unlock()
	for _, fn := range observers {
		fn(graph)
	}
}

func incomingEqual(incoming []flow.Node, local flow.Node) bool {
	for _, n := range incoming {
		if n.ID == local.ID {
			return n.Type == local.Type && n.Position == local.Position
		}
	}
	return false
}
