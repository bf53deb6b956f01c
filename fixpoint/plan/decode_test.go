package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

const reachEDN = `
; nodes reachable from edges leaving nodes > 1
{:bindings [{:name l0 :arity 2
             :body (filter (get edges 2) [(> #0 1)])}
            {:name l1 :arity 2 :recursive true :types [:int :int]
             :body (distinct
                     (union (get l0)
                            (project (join [(get l1) (get l0)] [[#1 #2]]) [#0 #3])))}]
 :body (get l1)}
`

func TestDecodeMatchesBuiltPlan(t *testing.T) {
	p, err := Decode(reachEDN)
	require.NoError(t, err)
	require.Len(t, p.Bindings, 2)
	assert.True(t, p.Bindings[1].Recursive)
	assert.Equal(t, []fixpoint.ColumnType{{Scalar: fixpoint.TypeInt}, {Scalar: fixpoint.TypeInt}}, p.Bindings[1].Types)

	decoded, err := Compile(p)
	require.NoError(t, err)
	built, err := Compile(reachPlan())
	require.NoError(t, err)
	assert.Equal(t, Explain(built), Explain(decoded))
}

func TestDecodeOperators(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "constant rows and diffs",
			input:    `{:body (constant 2 [1 "a"] {:row [2 nil] :diff 3} [#error "boom" 1.5])}`,
			expected: "Constant\n  - (1, \"a\")\n  - ((2, null) x 3)\n  - (error(\"boom\"), 1.5)\n",
		},
		{
			name:     "map with nested expressions",
			input:    `{:body (map (get t 2) [(if (is-null #0) 0 (* #0 2)) (cast #1 :string) (- #0)])}`,
			expected: "Map (case when (#0) IS NULL then 0 else (#0 * 2) end, #1::string, -#0)\n  Get t\n",
		},
		{
			name:     "variadic and",
			input:    `{:body (filter (get t 2) [(and (> #0 1) (< #1 5) (not (= #0 #1)))])}`,
			expected: "Filter (((#0 > 1) AND (#1 < 5)) AND NOT((#0 = #1)))\n  Get t\n",
		},
		{
			name:     "delta join",
			input:    `{:body (join [(get a 2) (get b 2) (get c 1)] [[#1 #2] [#3 #4]] :delta)}`,
			expected: "Join on=(#1 = #2 AND #3 = #4) type=delta\n  Get a\n  Get b\n  Get c\n",
		},
		{
			name:     "reduce with aggregates",
			input:    `{:body (reduce (get t 2) [#0] [(count *) (count distinct #1) (avg #1)] 4)}`,
			expected: "Reduce group_by=[#0] aggregates=[count(*), count(distinct #1), avg(#1)] exp_group_size=4\n  Get t\n",
		},
		{
			name:     "topk options",
			input:    `{:body (topk (get t 2) {:group [#0] :order [[#1 :desc :nulls-last]] :limit 3 :offset 1})}`,
			expected: "TopK group_by=[#0] order_by=[#1 desc nulls_last] limit=3 offset=1\n  Get t\n",
		},
		{
			name:     "flatmap",
			input:    `{:body (flatmap (get t 2) (generate_series #0 #1 2))}`,
			expected: "FlatMap generate_series(#0, #1, 2)\n  Get t\n",
		},
		{
			name:     "except all",
			input:    `{:body (except-all (get a 1) (get b 1))}`,
			expected: "Threshold\n  Union\n    Get a\n    Negate\n      Get b\n",
		},
		{
			name:     "arrange",
			input:    `{:body (arrange (get a 2) [[#1]])}`,
			expected: "ArrangeBy keys=[[#1]]\n  Get a\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ExplainNode(p.Body))
		})
	}
}

func TestDecodeFinishing(t *testing.T) {
	p, err := Decode(`{:body (get t 2) :finishing {:order [[#1 :desc] [#0]] :limit 10 :offset 2 :project [#1]}}`)
	require.NoError(t, err)
	require.NotNil(t, p.Finishing)
	assert.Equal(t, []fixpoint.OrderColumn{
		{Column: 1, Desc: true},
		{Column: 0, NullsLast: true},
	}, p.Finishing.Order)
	assert.Equal(t, 10, p.Finishing.Limit)
	assert.Equal(t, 2, p.Finishing.Offset)
	assert.Equal(t, []int{1}, p.Finishing.Project)

	p, err = Decode(`{:body (get t 1) :finishing {:project [#0]}}`)
	require.NoError(t, err)
	assert.Equal(t, NoLimit, p.Finishing.Limit)
}

func TestDecodeErrors(t *testing.T) {
	inputs := map[string]string{
		"not a map":            `[1 2]`,
		"missing body":         `{:bindings []}`,
		"unknown operator":     `{:body (frobnicate (get t 1))}`,
		"source without arity": `{:body (get t)}`,
		"binding without name": `{:bindings [{:arity 1 :body (get t 1)}] :body (get t 1)}`,
		"unknown function":     `{:body (map (get t 1) [(frob #0)])}`,
		"unknown tag":          `{:body (constant 1 [#inst "2020"])}`,
		"bad column type":      `{:bindings [{:name a :arity 1 :types [:blob] :body (get t 1)}] :body (get a)}`,
		"unknown join type":    `{:body (join [(get a 1) (get b 1)] :hash)}`,
		"syntax":               `{:body (get t 1}`,
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.Error(t, err)
		})
	}
}

func TestDecodeSources(t *testing.T) {
	sources, err := DecodeSources(`{:edges [[1 2] [2 3] {:row [2 3] :diff 2}] :names [["a"]]}`)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	edges := sources["edges"].Consolidate()
	assert.Equal(t, int64(4), edges.Count())
	assert.Equal(t, 2, edges.Len())
	assert.Equal(t, int64(1), sources["names"].Count())

	_, err = DecodeSources(`{:edges [[1 x]]}`)
	assert.Error(t, err)
}
