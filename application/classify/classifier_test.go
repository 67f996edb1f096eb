package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_RuleTable(t *testing.T) {
	tests := []struct {
		op   Operation
		want Decision
	}{
		{OpAddNode, Decision{ShapeBulk, UrgencyImmediate}},
		{OpRemoveNode, Decision{ShapeBulk, UrgencyImmediate}},
		{OpAddEdge, Decision{ShapeBulk, UrgencyImmediate}},
		{OpRemoveEdge, Decision{ShapeBulk, UrgencyImmediate}},
		{OpConnectNodes, Decision{ShapeBulk, UrgencyImmediate}},
		{OpClearGraph, Decision{ShapeBulk, UrgencyImmediate}},
		{OpMoveNode, Decision{ShapeGranular, UrgencyDebounced}},
		{OpResizeNode, Decision{ShapeGranular, UrgencyDebounced}},
		{OpEditField, Decision{ShapeGranular, UrgencyDebounced}},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.op))
		})
	}
}

func TestClassify_UnknownOperationIsImmediate(t *testing.T) {
	got := Classify(Operation("mystery_op"))

	assert.Equal(t, Decision{ShapeBulk, UrgencyImmediate}, got,
		"unknown operations must not be silently coalesced")
}
