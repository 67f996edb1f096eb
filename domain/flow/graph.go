package flow

// Viewport is the shared camera state of a room's canvas.
type Viewport struct {
	X    float64 `json:"x" msgpack:"x"`
	Y    float64 `json:"y" msgpack:"y"`
	Zoom float64 `json:"zoom" msgpack:"zoom"`
}

// Graph is the complete node/edge state of one room. It is a value-style
// snapshot: mutating methods operate in place, callers that need isolation
// take a Clone first.
type Graph struct {
	Nodes    []Node   `json:"nodes" msgpack:"nodes"`
	Edges    []Edge   `json:"edges" msgpack:"edges"`
	Viewport Viewport `json:"viewport" msgpack:"viewport"`
}

// NewGraph returns an empty graph with a unit-zoom viewport.
func NewGraph() Graph {
	return Graph{
		Nodes:    []Node{},
		Edges:    []Edge{},
		Viewport: Viewport{Zoom: 1},
	}
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	c := Graph{
		Nodes:    make([]Node, len(g.Nodes)),
		Edges:    make([]Edge, len(g.Edges)),
		Viewport: g.Viewport,
	}
	for i, n := range g.Nodes {
		c.Nodes[i] = n.Clone()
	}
	copy(c.Edges, g.Edges)
	return c
}

// NodeByID returns the node with the given id, if present.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// ReplaceNodes swaps the entire node collection.
func (g *Graph) ReplaceNodes(nodes []Node) {
	if nodes == nil {
		nodes = []Node{}
	}
	g.Nodes = nodes
}

// ReplaceEdges swaps the entire edge collection.
func (g *Graph) ReplaceEdges(edges []Edge) {
	if edges == nil {
		edges = []Edge{}
	}
	g.Edges = edges
}

// ApplyNodePatch merges a partial node update. A patch whose target is
// absent is a no-op: a debounced edit may land after its node was deleted
// by a concurrent participant, and that must stay harmless.
func (g *Graph) ApplyNodePatch(p NodePatch) bool {
	node, ok := g.NodeByID(p.ID)
	if !ok {
		return false
	}
	if p.Position != nil {
		node.Position = *p.Position
	}
	if p.Width != nil {
		node.Width = *p.Width
	}
	if p.Height != nil {
		node.Height = *p.Height
	}
	if len(p.Data) > 0 {
		if node.Data == nil {
			node.Data = make(map[string]any, len(p.Data))
		}
		for k, v := range p.Data {
			node.Data[k] = v
		}
	}
	return true
}

// ApplyEdgePatch merges a partial edge update; absent targets are no-ops.
func (g *Graph) ApplyEdgePatch(p EdgePatch) bool {
	for i := range g.Edges {
		if g.Edges[i].ID != p.ID {
			continue
		}
		if p.Source != nil {
			g.Edges[i].Source = *p.Source
		}
		if p.Target != nil {
			g.Edges[i].Target = *p.Target
		}
		if p.Type != nil {
			g.Edges[i].Type = *p.Type
		}
		return true
	}
	return false
}

// PruneDanglingEdges drops edges whose source or target no longer exists
// and returns how many were removed. Called opportunistically, not inline
// with every mutation.
func (g *Graph) PruneDanglingEdges() int {
	known := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		known[n.ID] = struct{}{}
	}
	kept := g.Edges[:0]
	removed := 0
	for _, e := range g.Edges {
		_, src := known[e.Source]
		_, dst := known[e.Target]
		if src && dst {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	g.Edges = kept
	return removed
}
