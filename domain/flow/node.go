package flow

// Position is a 2D coordinate on the canvas.
type Position struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Node is a single element of a flow graph. IDs are unique within one
// room's graph; uniqueness is restored by FixDuplicateIDs whenever a node
// set arrives from a shared or remote source.
type Node struct {
	ID       string         `json:"id" msgpack:"id"`
	Type     string         `json:"type" msgpack:"type"`
	Position Position       `json:"position" msgpack:"position"`
	Width    float64        `json:"width,omitempty" msgpack:"width,omitempty"`
	Height   float64        `json:"height,omitempty" msgpack:"height,omitempty"`
	Data     map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	c := n
	if n.Data != nil {
		c.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return c
}

// NodePatch is a partial update to one node. Nil fields are left
// untouched; Data entries are merged key by key.
type NodePatch struct {
	ID       string         `json:"id" msgpack:"id"`
	Position *Position      `json:"position,omitempty" msgpack:"position,omitempty"`
	Width    *float64       `json:"width,omitempty" msgpack:"width,omitempty"`
	Height   *float64       `json:"height,omitempty" msgpack:"height,omitempty"`
	Data     map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
}
