package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// reachPlan computes the nodes reachable from edges whose source is > 1.
func reachPlan() *Plan {
	start := &Binding{
		Name:  "l0",
		Arity: 2,
		Body:  NewFilter(NewGet("edges", 2), Gt(Col(0), Lit(1))),
	}
	reach := &Binding{
		Name:      "l1",
		Arity:     2,
		Recursive: true,
		Body: NewDistinct(NewUnion(
			NewGet("l0", 2),
			NewProject(NewJoin([]Node{NewGet("l1", 2), NewGet("l0", 2)}, []int{1, 2}), 0, 3),
		)),
	}
	return &Plan{Bindings: []*Binding{start, reach}, Body: NewGet("l1", 2)}
}

func TestCompileGroups(t *testing.T) {
	c, err := Compile(reachPlan())
	require.NoError(t, err)

	require.Len(t, c.Groups, 2)
	assert.Equal(t, []int{0}, c.Groups[0].Members)
	assert.False(t, c.Groups[0].Recursive)
	assert.Equal(t, []int{1}, c.Groups[1].Members)
	assert.True(t, c.Groups[1].Recursive)

	require.Len(t, c.Sources, 1)
	assert.Equal(t, Source{Name: "edges", Arity: 2}, c.Sources[0])
	assert.Equal(t, 3, c.Slots())
	assert.Equal(t, "edges", c.SlotName(2))
	assert.Equal(t, "l1", c.SlotName(1))

	i, ok := c.BindingIndex("l1")
	require.True(t, ok)
	assert.Same(t, c.Groups[1], c.GroupOf(i))
	assert.Equal(t, []string{"l1"}, c.MemberNames(c.Groups[1]))

	get := c.Return.(*Get)
	assert.Equal(t, Ref{Kind: RefBinding, Index: 1, Slot: 1}, c.Resolve(get))
}

func TestCompileMutualRecursion(t *testing.T) {
	// even(n+1) <- odd(n), odd(n+1) <- even(n), seeded with even(0).
	even := &Binding{Name: "even", Arity: 1, Recursive: true}
	odd := &Binding{Name: "odd", Arity: 1, Recursive: true}
	even.Body = NewUnion(
		NewConstant(1, fixpoint.Row{int64(0)}),
		NewProject(NewMap(NewFilter(NewGet("odd", 1), Lt(Col(0), Lit(10))), Add(Col(0), Lit(1))), 1),
	)
	odd.Body = NewProject(NewMap(NewFilter(NewGet("even", 1), Lt(Col(0), Lit(10))), Add(Col(0), Lit(1))), 1)

	c, err := Compile(&Plan{Bindings: []*Binding{even, odd}, Body: NewGet("even", 1)})
	require.NoError(t, err)
	require.Len(t, c.Groups, 1)
	assert.Equal(t, []int{0, 1}, c.Groups[0].Members)
	assert.True(t, c.Groups[0].Recursive)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		plan func() *Plan
		msg  string
	}{
		{
			name: "cycle among non-recursive bindings",
			plan: func() *Plan {
				a := &Binding{Name: "a", Arity: 1, Body: NewGet("b", 1)}
				b := &Binding{Name: "b", Arity: 1, Body: NewGet("a", 1)}
				return &Plan{Bindings: []*Binding{a, b}, Body: NewGet("a", 1)}
			},
			msg: "cyclic reference",
		},
		{
			name: "self reference without recursive flag",
			plan: func() *Plan {
				a := &Binding{Name: "a", Arity: 1, Body: NewUnion(NewGet("a", 1), NewGet("src", 1))}
				return &Plan{Bindings: []*Binding{a}, Body: NewGet("a", 1)}
			},
			msg: "cyclic reference",
		},
		{
			name: "declared arity differs from body",
			plan: func() *Plan {
				a := &Binding{Name: "a", Arity: 3, Body: NewGet("src", 2)}
				return &Plan{Bindings: []*Binding{a}, Body: NewGet("a", 3)}
			},
			msg: "declared arity 3",
		},
		{
			name: "get with wrong binding arity",
			plan: func() *Plan {
				a := &Binding{Name: "a", Arity: 2, Body: NewGet("src", 2)}
				return &Plan{Bindings: []*Binding{a}, Body: NewGet("a", 1)}
			},
			msg: "binding has arity 2",
		},
		{
			name: "union branch arity mismatch",
			plan: func() *Plan {
				return &Plan{Body: NewUnion(NewGet("x", 1), NewGet("y", 2))}
			},
			msg: "union branches",
		},
		{
			name: "source read with two arities",
			plan: func() *Plan {
				return &Plan{Body: NewJoin([]Node{NewGet("x", 1), NewGet("x", 2)})}
			},
			msg: "source x read with arities",
		},
		{
			name: "project out of range",
			plan: func() *Plan {
				return &Plan{Body: NewProject(NewGet("x", 2), 2)}
			},
			msg: "out of range",
		},
		{
			name: "map expression beyond arity",
			plan: func() *Plan {
				return &Plan{Body: NewMap(NewGet("x", 1), Col(1))}
			},
			msg: "beyond arity",
		},
		{
			name: "duplicate binding",
			plan: func() *Plan {
				a := &Binding{Name: "a", Arity: 1, Body: NewGet("x", 1)}
				return &Plan{Bindings: []*Binding{a, a}, Body: NewGet("a", 1)}
			},
			msg: "duplicate binding",
		},
		{
			name: "types length",
			plan: func() *Plan {
				a := &Binding{Name: "a", Arity: 1, Body: NewGet("x", 1),
					Types: []fixpoint.ColumnType{{Scalar: fixpoint.TypeInt}, {Scalar: fixpoint.TypeInt}}}
				return &Plan{Bindings: []*Binding{a}, Body: NewGet("a", 1)}
			},
			msg: "column types",
		},
		{
			name: "generate_series argument count",
			plan: func() *Plan {
				return &Plan{Body: NewGenerateSeries(NewGet("x", 1), Col(0))}
			},
			msg: "2 or 3 arguments",
		},
		{
			name: "finishing order out of range",
			plan: func() *Plan {
				return &Plan{
					Body:      NewGet("x", 1),
					Finishing: &Finishing{Order: []fixpoint.OrderColumn{fixpoint.DefaultOrder(4, false)}, Limit: NoLimit},
				}
			},
			msg: "order by column #4",
		},
		{
			name: "no body",
			plan: func() *Plan { return &Plan{} },
			msg:  "no body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.plan())
			require.Error(t, err)
			assert.True(t, errors.Is(err, fixpoint.ErrPlan), "expected ErrPlan, got %v", err)
			var pe *fixpoint.PlanError
			assert.True(t, errors.As(err, &pe))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCompileFinishing(t *testing.T) {
	p := &Plan{
		Body: NewGet("x", 2),
		Finishing: &Finishing{
			Order:   []fixpoint.OrderColumn{fixpoint.DefaultOrder(1, true)},
			Limit:   5,
			Project: []int{1},
		},
	}
	c, err := Compile(p)
	require.NoError(t, err)

	top, ok := c.Body.(*TopK)
	require.True(t, ok)
	assert.Empty(t, top.GroupKey)
	assert.Equal(t, 5, top.Limit)

	proj, ok := c.Return.(*Project)
	require.True(t, ok)
	assert.Same(t, top, proj.Input)
	assert.Equal(t, 1, c.Return.Arity())

	// Without order, limit or offset only the projection remains.
	p.Finishing = &Finishing{Limit: NoLimit, Project: []int{0}}
	c, err = Compile(p)
	require.NoError(t, err)
	assert.Same(t, p.Body, c.Body)
}

func TestMonotonicAnalysis(t *testing.T) {
	t.Run("distinct over inserting recursion", func(t *testing.T) {
		c, err := Compile(reachPlan())
		require.NoError(t, err)
		d := c.Bindings[1].Body.(*Distinct)
		assert.True(t, c.IsMonotonic(d))
	})

	t.Run("negation breaks monotonicity", func(t *testing.T) {
		b := &Binding{Name: "l0", Arity: 1, Recursive: true}
		b.Body = NewDistinct(NewUnion(
			NewGet("src", 1),
			NewNegate(NewGet("l0", 1)),
		))
		c, err := Compile(&Plan{Bindings: []*Binding{b}, Body: NewGet("l0", 1)})
		require.NoError(t, err)
		assert.False(t, c.IsMonotonic(b.Body))
	})

	t.Run("reduce inside recursion retracts", func(t *testing.T) {
		b := &Binding{Name: "l0", Arity: 2, Recursive: true}
		b.Body = NewTopK(
			NewUnion(NewGet("src", 2), NewReduce(NewGet("l0", 2), []int{0}, Aggregate{Func: AggMax, Expr: Col(1)})),
			[]int{0}, []fixpoint.OrderColumn{fixpoint.DefaultOrder(1, true)}, 1, 0,
		)
		c, err := Compile(&Plan{Bindings: []*Binding{b}, Body: NewGet("l0", 2)})
		require.NoError(t, err)
		assert.False(t, c.IsMonotonic(b.Body))
	})

	t.Run("non-recursive scope over non-negative input", func(t *testing.T) {
		d := NewDistinct(NewGet("src", 1))
		c, err := Compile(&Plan{Body: d})
		require.NoError(t, err)
		assert.True(t, c.IsMonotonic(d))
	})

	t.Run("non-recursive scope over a difference", func(t *testing.T) {
		d := NewDistinct(NewUnion(NewGet("a", 1), NewNegate(NewGet("b", 1))))
		c, err := Compile(&Plan{Body: d})
		require.NoError(t, err)
		assert.False(t, c.IsMonotonic(d))
	})
}

func TestJoinPlans(t *testing.T) {
	t.Run("two inputs default to differential", func(t *testing.T) {
		j := NewJoin([]Node{NewGet("a", 2), NewGet("b", 2)}, []int{1, 2})
		c, err := Compile(&Plan{Body: j})
		require.NoError(t, err)
		jp := c.JoinPlan(j)
		require.NotNil(t, jp)
		assert.Equal(t, ImplDifferential, jp.Impl)
		assert.Equal(t, []int{0, 2}, jp.Offsets)
		assert.Equal(t, 4, jp.Width)
		require.Len(t, jp.Orders, 1)
		assert.Equal(t, []JoinStep{
			{Input: 0},
			{Input: 1, InputKey: []int{0}, PrefixKey: []int{1}},
		}, jp.Orders[0])
	})

	t.Run("three inputs default to delta", func(t *testing.T) {
		// a(0,1) b(2,3) c(4,5): a.1 = b.0, b.1 = c.0
		j := NewJoin([]Node{NewGet("a", 2), NewGet("b", 2), NewGet("c", 2)}, []int{1, 2}, []int{3, 4})
		c, err := Compile(&Plan{Body: j})
		require.NoError(t, err)
		jp := c.JoinPlan(j)
		assert.Equal(t, ImplDelta, jp.Impl)
		require.Len(t, jp.Orders, 3)

		inputs := func(steps []JoinStep) []int {
			var out []int
			for _, s := range steps {
				out = append(out, s.Input)
			}
			return out
		}
		assert.Equal(t, []int{0, 1, 2}, inputs(jp.Orders[0]))
		assert.Equal(t, []int{1, 0, 2}, inputs(jp.Orders[1]))
		// c connects only to b.
		assert.Equal(t, []int{2, 1, 0}, inputs(jp.Orders[2]))

		last := jp.Orders[2][2]
		assert.Equal(t, []int{2}, last.PrefixKey)
		assert.Equal(t, []int{1}, last.InputKey)
	})

	t.Run("explicit implementation wins", func(t *testing.T) {
		j := NewJoin([]Node{NewGet("a", 1), NewGet("b", 1), NewGet("c", 1)}, []int{0, 1, 2})
		j.Implementation = ImplDifferential
		c, err := Compile(&Plan{Body: j})
		require.NoError(t, err)
		jp := c.JoinPlan(j)
		assert.Equal(t, ImplDifferential, jp.Impl)
		assert.Equal(t, [][]int{{0, 1, 2}}, jp.Classes)
		assert.Equal(t, 2, jp.InputOf(2))
		assert.Equal(t, 0, jp.InputOf(0))
	})
}
