package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func floatPtr(f float64) *float64 { return &f }

func TestApplyNodePatch_MergesFields(t *testing.T) {
	g := NewGraph()
	g.ReplaceNodes([]Node{
		{ID: "node-1", Position: Position{X: 10, Y: 10}, Width: 100, Height: 50},
	})

	ok := g.ApplyNodePatch(NodePatch{
		ID:       "node-1",
		Position: &Position{X: 25, Y: 30},
		Width:    floatPtr(120),
		Data:     map[string]any{"label": "renamed"},
	})

	assert.True(t, ok)
	node, _ := g.NodeByID("node-1")
	assert.Equal(t, Position{X: 25, Y: 30}, node.Position)
	assert.Equal(t, 120.0, node.Width)
	assert.Equal(t, 50.0, node.Height, "unpatched fields keep their values")
	assert.Equal(t, "renamed", node.Data["label"])
}

func TestApplyNodePatch_AbsentTargetIsNoOp(t *testing.T) {
	g := NewGraph()
	g.ReplaceNodes([]Node{{ID: "node-1"}})

	// A debounced move can arrive after its node was deleted elsewhere.
	ok := g.ApplyNodePatch(NodePatch{ID: "node-gone", Position: &Position{X: 1, Y: 2}})

	assert.False(t, ok)
	assert.Len(t, g.Nodes, 1)
	assert.Equal(t, "node-1", g.Nodes[0].ID)
}

func TestApplyEdgePatch_AbsentTargetIsNoOp(t *testing.T) {
	g := NewGraph()

	ok := g.ApplyEdgePatch(EdgePatch{ID: "edge-gone"})

	assert.False(t, ok)
	assert.Empty(t, g.Edges)
}

func TestPruneDanglingEdges(t *testing.T) {
	g := NewGraph()
	g.ReplaceNodes([]Node{{ID: "a"}, {ID: "b"}})
	g.ReplaceEdges([]Edge{
		{ID: "e1", Source: "a", Target: "b"},
		{ID: "e2", Source: "a", Target: "gone"},
		{ID: "e3", Source: "gone", Target: "b"},
	})

	removed := g.PruneDanglingEdges()

	assert.Equal(t, 2, removed)
	assert.Len(t, g.Edges, 1)
	assert.Equal(t, "e1", g.Edges[0].ID)
}

func TestClone_IsolatesNodeData(t *testing.T) {
	g := NewGraph()
	g.ReplaceNodes([]Node{{ID: "a", Data: map[string]any{"label": "original"}}})

	c := g.Clone()
	c.Nodes[0].Data["label"] = "changed"

	assert.Equal(t, "original", g.Nodes[0].Data["label"])
}

func TestReplaceNodes_NilBecomesEmpty(t *testing.T) {
	g := NewGraph()
	g.ReplaceNodes(nil)
	g.ReplaceEdges(nil)

	assert.NotNil(t, g.Nodes)
	assert.NotNil(t, g.Edges)
}
