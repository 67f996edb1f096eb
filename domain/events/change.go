// Package events defines the change events exchanged between collaborators
// and the wire envelopes of the room protocol. A ChangeEvent is ephemeral:
// it exists in transit and as a transient pending-queue entry, never as a
// persisted record of its own.
package events

import (
	"fmt"
	"time"

	"flowsync/domain/flow"
)

// ChangeType tags a ChangeEvent and determines which payload field is set.
type ChangeType string

const (
	// BulkNodes replaces the entire node collection.
	BulkNodes ChangeType = "BULK_NODES"
	// GranularNodes patches individual nodes in place.
	GranularNodes ChangeType = "GRANULAR_NODES"
	// BulkEdges replaces the entire edge collection.
	BulkEdges ChangeType = "BULK_EDGES"
	// GranularEdges patches individual edges in place.
	GranularEdges ChangeType = "GRANULAR_EDGES"
	// CursorMove carries a participant's pointer position.
	CursorMove ChangeType = "CURSOR_MOVE"
)

// ChangeEvent is the tagged union flowing between participants. Exactly
// one payload field is meaningful, selected by Type.
type ChangeEvent struct {
	Type   ChangeType `json:"type" msgpack:"type"`
	Origin string     `json:"origin" msgpack:"origin"`

	Nodes       []flow.Node      `json:"nodes,omitempty" msgpack:"nodes,omitempty"`
	NodePatches []flow.NodePatch `json:"nodePatches,omitempty" msgpack:"nodePatches,omitempty"`
	Edges       []flow.Edge      `json:"edges,omitempty" msgpack:"edges,omitempty"`
	EdgePatches []flow.EdgePatch `json:"edgePatches,omitempty" msgpack:"edgePatches,omitempty"`
	Cursor      *flow.Position   `json:"cursor,omitempty" msgpack:"cursor,omitempty"`
}

// NewBulkNodes builds a bulk node replacement event.
func NewBulkNodes(origin string, nodes []flow.Node) ChangeEvent {
	return ChangeEvent{Type: BulkNodes, Origin: origin, Nodes: nodes}
}

// NewGranularNodes builds a node patch event.
func NewGranularNodes(origin string, patches ...flow.NodePatch) ChangeEvent {
	return ChangeEvent{Type: GranularNodes, Origin: origin, NodePatches: patches}
}

// NewBulkEdges builds a bulk edge replacement event.
func NewBulkEdges(origin string, edges []flow.Edge) ChangeEvent {
	return ChangeEvent{Type: BulkEdges, Origin: origin, Edges: edges}
}

// NewGranularEdges builds an edge patch event.
func NewGranularEdges(origin string, patches ...flow.EdgePatch) ChangeEvent {
	return ChangeEvent{Type: GranularEdges, Origin: origin, EdgePatches: patches}
}

// NewCursorMove builds a cursor position event.
func NewCursorMove(origin string, pos flow.Position) ChangeEvent {
	return ChangeEvent{Type: CursorMove, Origin: origin, Cursor: &pos}
}

// Validate checks that the tag and payload agree.
func (e ChangeEvent) Validate() error {
	switch e.Type {
	case BulkNodes, GranularNodes, BulkEdges, GranularEdges:
		return nil
	case CursorMove:
		if e.Cursor == nil {
			return fmt.Errorf("cursor_move event without cursor payload")
		}
		return nil
	default:
		return fmt.Errorf("unknown change type %q", e.Type)
	}
}

// IsStructural reports whether the event changes which elements exist, as
// opposed to continuous cursor movement.
func (e ChangeEvent) IsStructural() bool {
	return e.Type != CursorMove
}

// Pending is a ChangeEvent waiting in the shared cache for the next
// durable flush.
type Pending struct {
	Event      ChangeEvent `msgpack:"event"`
	ReceivedAt time.Time   `msgpack:"receivedAt"`
}
