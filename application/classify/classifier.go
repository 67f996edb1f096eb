// Package classify decides how a local edit travels: as a bulk replacement
// or a granular patch, and immediately or after a debounce window.
package classify

import "time"

// Shape says whether a change replaces a whole collection or patches part
// of one.
type Shape string

const (
	ShapeBulk     Shape = "bulk"
	ShapeGranular Shape = "granular"
)

// Urgency says whether a change must propagate at once or may coalesce.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyDebounced Urgency = "debounced"
)

// Debounce windows for continuous edits. The local multi-tab variant runs
// a wider window because storage-event delivery is cheaper but noisier
// than a network channel.
const (
	NetworkDebounceWindow = 100 * time.Millisecond
	LocalDebounceWindow   = 500 * time.Millisecond
)

// Operation enumerates the local edits a client can perform.
type Operation string

const (
	OpAddNode      Operation = "add_node"
	OpRemoveNode   Operation = "remove_node"
	OpAddEdge      Operation = "add_edge"
	OpRemoveEdge   Operation = "remove_edge"
	OpMoveNode     Operation = "move_node"
	OpResizeNode   Operation = "resize_node"
	OpEditField    Operation = "edit_field"
	OpConnectNodes Operation = "connect_nodes"
	OpClearGraph   Operation = "clear_graph"
)

// Decision is the classification of one operation.
type Decision struct {
	Shape   Shape
	Urgency Urgency
}

// Classify applies the rule table. Structural changes (an element coming
// into or out of existence) must never be dropped by debounce coalescing,
// so they go out immediately as bulk replacements; continuous changes
// (dragging, typing) are granular and coalesced.
func Classify(op Operation) Decision {
	switch op {
	case OpAddNode, OpRemoveNode, OpAddEdge, OpRemoveEdge, OpConnectNodes, OpClearGraph:
		return Decision{Shape: ShapeBulk, Urgency: UrgencyImmediate}
	case OpMoveNode, OpResizeNode, OpEditField:
		return Decision{Shape: ShapeGranular, Urgency: UrgencyDebounced}
	default:
		// Unknown operations propagate immediately rather than risk a
		// silently dropped change.
		return Decision{Shape: ShapeBulk, Urgency: UrgencyImmediate}
	}
}
