package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

func TestLowerScalarSubqueryShape(t *testing.T) {
	outer := NewGet("orders", 3)
	sub := NewGet("prices", 2)

	n, err := LowerScalarSubquery(outer, []int{1}, sub)
	require.NoError(t, err)
	assert.Equal(t, 4, n.Arity())

	// NULL correlation values take a separate branch.
	u, ok := n.(*Union)
	require.True(t, ok)
	require.Len(t, u.Inputs, 2)

	c, err := Compile(&Plan{Body: n})
	require.NoError(t, err)
	assert.Len(t, c.Sources, 2)
	assert.Contains(t, Explain(c), "Reduce group_by=[#0] aggregates=[count(*)]")
}

func TestLowerScalarSubqueryUncorrelated(t *testing.T) {
	n, err := LowerScalarSubquery(NewGet("t", 1), nil, NewGet("s", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n.Arity())
	_, err = Compile(&Plan{Body: n})
	require.NoError(t, err)
}

func TestLowerScalarSubqueryErrors(t *testing.T) {
	_, err := LowerScalarSubquery(NewGet("t", 1), []int{3}, NewGet("s", 2))
	assert.True(t, errors.Is(err, fixpoint.ErrPlan))

	_, err = LowerScalarSubquery(NewGet("t", 2), []int{0}, NewGet("s", 3))
	assert.True(t, errors.Is(err, fixpoint.ErrPlan))
}

func TestSetOperationShapes(t *testing.T) {
	a, b := NewGet("a", 1), NewGet("b", 1)
	tests := []struct {
		name     string
		node     Node
		expected string
	}{
		{"union all", UnionAll(a, b), "Union\n  Get a\n  Get b\n"},
		{"union", UnionDistinct(a, b), "Distinct project=[#0]\n  Union\n    Get a\n    Get b\n"},
		{"except", Except(a, b), "Threshold\n  Union\n    Distinct project=[#0]\n      Get a\n    Negate\n      Distinct project=[#0]\n        Get b\n"},
		{"intersect all", IntersectAll(a, b), "Threshold\n  Union\n    Get a\n    Negate\n      Threshold\n        Union\n          Get a\n          Negate\n            Get b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExplainNode(tt.node))
		})
	}
	assert.IsType(t, &Distinct{}, Intersect(a, b))
}
