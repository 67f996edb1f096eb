package flow

// Edge connects two nodes in a flow graph. Source and Target should
// reference nodes present in the same graph; dangling edges are tolerated
// transiently during concurrent delete races and removed by
// Graph.PruneDanglingEdges.
type Edge struct {
	ID     string `json:"id" msgpack:"id"`
	Source string `json:"source" msgpack:"source"`
	Target string `json:"target" msgpack:"target"`
	Type   string `json:"type,omitempty" msgpack:"type,omitempty"`
}

// EdgePatch is a partial update to one edge.
type EdgePatch struct {
	ID     string  `json:"id" msgpack:"id"`
	Source *string `json:"source,omitempty" msgpack:"source,omitempty"`
	Target *string `json:"target,omitempty" msgpack:"target,omitempty"`
	Type   *string `json:"type,omitempty" msgpack:"type,omitempty"`
}
