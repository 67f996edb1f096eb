package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixDuplicateIDs_RewritesLaterOccurrences(t *testing.T) {
	nodes := []Node{
		{ID: "node-1"},
		{ID: "node-2"},
		{ID: "node-1"},
	}

	fixed, dups := FixDuplicateIDs(nodes)

	assert.Len(t, fixed, 3)
	assert.Equal(t, "node-1", fixed[0].ID)
	assert.Equal(t, "node-2", fixed[1].ID)
	assert.Equal(t, "node-3", fixed[2].ID, "counter seeds past the highest numeric suffix")
	assert.Equal(t, []string{"node-1"}, dups)
}

func TestFixDuplicateIDs_CounterSkipsTakenIDs(t *testing.T) {
	nodes := []Node{
		{ID: "node-5"},
		{ID: "node-6"},
		{ID: "node-5"},
	}

	fixed, dups := FixDuplicateIDs(nodes)

	assert.Equal(t, "node-7", fixed[2].ID)
	assert.Equal(t, []string{"node-5"}, dups)

	ids := make(map[string]struct{})
	for _, n := range fixed {
		_, taken := ids[n.ID]
		assert.False(t, taken, "id %s assigned twice", n.ID)
		ids[n.ID] = struct{}{}
	}
}

func TestFixDuplicateIDs_NonNumericIDsUntouched(t *testing.T) {
	nodes := []Node{
		{ID: "alpha"},
		{ID: "beta"},
		{ID: "alpha"},
	}

	fixed, dups := FixDuplicateIDs(nodes)

	assert.Equal(t, "alpha", fixed[0].ID)
	assert.Equal(t, "beta", fixed[1].ID)
	assert.Equal(t, "node-1", fixed[2].ID)
	assert.Equal(t, []string{"alpha"}, dups)
}

func TestFixDuplicateIDs_Idempotent(t *testing.T) {
	nodes := []Node{
		{ID: "node-1"},
		{ID: "node-1"},
		{ID: "node-1"},
	}

	once, _ := FixDuplicateIDs(nodes)
	twice, dups := FixDuplicateIDs(once)

	assert.Empty(t, dups)
	assert.Equal(t, once, twice)
}

func TestFixDuplicateIDs_DoesNotMutateInput(t *testing.T) {
	nodes := []Node{
		{ID: "node-1", Data: map[string]any{"label": "a"}},
		{ID: "node-1", Data: map[string]any{"label": "b"}},
	}

	fixed, _ := FixDuplicateIDs(nodes)

	assert.Equal(t, "node-1", nodes[1].ID, "input slice must keep its ids")
	assert.Equal(t, "node-2", fixed[1].ID)
	assert.Equal(t, "b", fixed[1].Data["label"], "payload survives the rewrite")
}

func TestFixDuplicateIDs_EmptyInput(t *testing.T) {
	fixed, dups := FixDuplicateIDs(nil)

	assert.Empty(t, fixed)
	assert.Empty(t, dups)
}
