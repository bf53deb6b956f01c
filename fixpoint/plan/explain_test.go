package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
)

func TestExplainRecursivePlan(t *testing.T) {
	c, err := Compile(reachPlan())
	require.NoError(t, err)

	expected := strings.Join([]string{
		"With",
		"  cte l0 =",
		"    Filter (#0 > 1)",
		"      Get edges",
		"With Mutually Recursive",
		"  cte l1 =",
		"    Distinct project=[#0, #1] monotonic",
		"      Union",
		"        Get l0",
		"        Project (#0, #3)",
		"          Join on=(#1 = #2) type=differential",
		"            Get l1",
		"            Get l0",
		"Return",
		"  Get l1",
		"",
	}, "\n")
	assert.Equal(t, expected, Explain(c))
}

func TestExplainOperators(t *testing.T) {
	tests := []struct {
		name     string
		node     Node
		expected string
	}{
		{
			name: "constant with multiplicities",
			node: &Constant{Width: 2, Rows: []collection.Update{
				{Row: fixpoint.Row{int64(1), int64(2)}, Diff: 1},
				{Row: fixpoint.Row{int64(3), "x"}, Diff: 3},
			}},
			expected: "Constant\n  - (1, 2)\n  - ((3, \"x\") x 3)\n",
		},
		{
			name:     "empty constant",
			node:     NewConstant(1),
			expected: "Constant <empty>\n",
		},
		{
			name:     "map and filter",
			node:     NewMap(NewFilter(NewGet("t", 2), Eq(Col(0), Col(1)), Unary{Op: OpNot, Input: Unary{Op: OpIsNull, Input: Col(1)}}), Add(Col(0), Lit(1))),
			expected: "Map ((#0 + 1))\n  Filter (#0 = #1) AND NOT((#1) IS NULL)\n    Get t\n",
		},
		{
			name:     "flat map",
			node:     NewGenerateSeries(NewGet("t", 2), Col(0), Col(1)),
			expected: "FlatMap generate_series(#0, #1)\n  Get t\n",
		},
		{
			name:     "cross join",
			node:     NewJoin([]Node{NewGet("a", 1), NewGet("b", 1)}),
			expected: "CrossJoin type=default\n  Get a\n  Get b\n",
		},
		{
			name:     "reduce",
			node:     &Reduce{Input: NewGet("t", 2), GroupKey: []int{0}, Aggregates: []Aggregate{CountStar(), {Func: AggSum, Expr: Col(1), Distinct: true}}, ExpectedGroupSize: 8},
			expected: "Reduce group_by=[#0] aggregates=[count(*), sum(distinct #1)] exp_group_size=8\n  Get t\n",
		},
		{
			name:     "topk",
			node:     NewTopK(NewGet("t", 2), []int{0}, []fixpoint.OrderColumn{fixpoint.DefaultOrder(1, true)}, 1, 2),
			expected: "TopK group_by=[#0] order_by=[#1 desc nulls_first] limit=1 offset=2\n  Get t\n",
		},
		{
			name:     "topk without limit",
			node:     NewTopK(NewGet("t", 1), nil, []fixpoint.OrderColumn{fixpoint.DefaultOrder(0, false)}, NoLimit, 0),
			expected: "TopK order_by=[#0 asc nulls_last]\n  Get t\n",
		},
		{
			name:     "negate threshold arrange",
			node:     NewThreshold(NewNegate(NewArrangeBy(NewGet("t", 2), []int{0}, []int{0, 1}))),
			expected: "Threshold\n  Negate\n    ArrangeBy keys=[[#0], [#0, #1]]\n      Get t\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExplainNode(tt.node))
		})
	}
}

func TestExplainGroupsHeaders(t *testing.T) {
	a := &Binding{Name: "l0", Arity: 1, Body: NewGet("src", 1)}
	b := &Binding{Name: "l1", Arity: 1, Body: NewGet("l0", 1)}
	c, err := Compile(&Plan{Bindings: []*Binding{a, b}, Body: NewGet("l1", 1)})
	require.NoError(t, err)

	out := Explain(c)
	assert.Equal(t, 1, strings.Count(out, "With\n"))
	assert.Contains(t, out, "  cte l0 =\n    Get src\n  cte l1 =\n    Get l0\n")

	plain, err := Compile(&Plan{Body: NewProject(NewGet("src", 2), 1)})
	require.NoError(t, err)
	assert.Equal(t, "Project (#1)\n  Get src\n", Explain(plain))
}
