package plan

import (
	"fmt"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
)

// Node is an operator of the plan DAG. Nodes are immutable after
// construction and may be shared by several parents; per-execution state is
// kept by the executor, keyed by node identity.
type Node interface {
	// Arity is the number of output columns.
	Arity() int
	// Children returns the input nodes in order.
	Children() []Node
}

// NoLimit marks a TopK without a row limit.
const NoLimit = -1

// Get reads a binding or an external source by name.
type Get struct {
	Name  string
	Width int
}

func (g *Get) Arity() int       { return g.Width }
func (g *Get) Children() []Node { return nil }

// NewGet creates a reference to a named collection.
func NewGet(name string, arity int) *Get {
	return &Get{Name: name, Width: arity}
}

// Constant is a literal collection.
type Constant struct {
	Rows  []collection.Update
	Width int
}

func (c *Constant) Arity() int       { return c.Width }
func (c *Constant) Children() []Node { return nil }

// NewConstant creates a constant with multiplicity 1 per row.
func NewConstant(arity int, rows ...fixpoint.Row) *Constant {
	c := &Constant{Width: arity}
	for _, r := range rows {
		c.Rows = append(c.Rows, collection.Update{Row: r, Diff: 1})
	}
	return c
}

// Project keeps the listed columns in order.
type Project struct {
	Input   Node
	Outputs []int
}

func (p *Project) Arity() int       { return len(p.Outputs) }
func (p *Project) Children() []Node { return []Node{p.Input} }

func NewProject(input Node, outputs ...int) *Project {
	return &Project{Input: input, Outputs: outputs}
}

// Map appends one column per expression.
type Map struct {
	Input Node
	Exprs []Expr
}

func (m *Map) Arity() int       { return m.Input.Arity() + len(m.Exprs) }
func (m *Map) Children() []Node { return []Node{m.Input} }

func NewMap(input Node, exprs ...Expr) *Map {
	return &Map{Input: input, Exprs: exprs}
}

// Filter keeps rows for which every predicate is true.
type Filter struct {
	Input      Node
	Predicates []Expr
}

func (f *Filter) Arity() int       { return f.Input.Arity() }
func (f *Filter) Children() []Node { return []Node{f.Input} }

func NewFilter(input Node, predicates ...Expr) *Filter {
	return &Filter{Input: input, Predicates: predicates}
}

// TableFunc is a set-returning function applied per row by FlatMap.
type TableFunc struct {
	Name string
	Args []Expr
}

func (t TableFunc) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, joinExprs(t.Args))
}

// GenerateSeries is the only table function: generate_series(start, stop[, step]).
const GenerateSeries = "generate_series"

// FlatMap appends the output of a table function to each input row.
type FlatMap struct {
	Input Node
	Func  TableFunc
}

func (f *FlatMap) Arity() int       { return f.Input.Arity() + 1 }
func (f *FlatMap) Children() []Node { return []Node{f.Input} }

func NewGenerateSeries(input Node, args ...Expr) *FlatMap {
	return &FlatMap{Input: input, Func: TableFunc{Name: GenerateSeries, Args: args}}
}

// JoinImpl selects the join strategy.
type JoinImpl int

const (
	// ImplDefault lets the compiler choose.
	ImplDefault JoinImpl = iota
	ImplDifferential
	ImplDelta
)

func (i JoinImpl) String() string {
	switch i {
	case ImplDifferential:
		return "differential"
	case ImplDelta:
		return "delta"
	default:
		return "default"
	}
}

// Join is an equi-join of its inputs. Equivalences are classes of column
// positions over the concatenation of all input columns.
type Join struct {
	Inputs         []Node
	Equivalences   [][]int
	Implementation JoinImpl
}

func (j *Join) Arity() int {
	n := 0
	for _, in := range j.Inputs {
		n += in.Arity()
	}
	return n
}

func (j *Join) Children() []Node { return j.Inputs }

func NewJoin(inputs []Node, equivalences ...[]int) *Join {
	return &Join{Inputs: inputs, Equivalences: equivalences}
}

// AggFunc enumerates aggregate functions.
type AggFunc int

const (
	AggCountStar AggFunc = iota
	AggCount
	AggSum
	AggMin
	AggMax
	AggAvg
)

var aggNames = map[AggFunc]string{
	AggCountStar: "count", AggCount: "count", AggSum: "sum",
	AggMin: "min", AggMax: "max", AggAvg: "avg",
}

// Aggregate is one aggregate of a Reduce.
type Aggregate struct {
	Func     AggFunc
	Expr     Expr
	Distinct bool
}

func (a Aggregate) String() string {
	if a.Func == AggCountStar {
		return "count(*)"
	}
	if a.Distinct {
		return fmt.Sprintf("%s(distinct %s)", aggNames[a.Func], a.Expr)
	}
	return fmt.Sprintf("%s(%s)", aggNames[a.Func], a.Expr)
}

// CountStar returns count(*).
func CountStar() Aggregate { return Aggregate{Func: AggCountStar} }

// Reduce groups by key columns and appends one column per aggregate.
type Reduce struct {
	Input             Node
	GroupKey          []int
	Aggregates        []Aggregate
	ExpectedGroupSize int
}

func (r *Reduce) Arity() int       { return len(r.GroupKey) + len(r.Aggregates) }
func (r *Reduce) Children() []Node { return []Node{r.Input} }

func NewReduce(input Node, groupKey []int, aggregates ...Aggregate) *Reduce {
	return &Reduce{Input: input, GroupKey: groupKey, Aggregates: aggregates}
}

// Distinct emits each distinct projection of its input once. A nil Columns
// means every column.
type Distinct struct {
	Input   Node
	Columns []int
}

func (d *Distinct) Arity() int       { return len(d.Project()) }
func (d *Distinct) Children() []Node { return []Node{d.Input} }

// Project returns the effective projection.
func (d *Distinct) Project() []int {
	if d.Columns != nil {
		return d.Columns
	}
	return identity(d.Input.Arity())
}

func NewDistinct(input Node) *Distinct {
	return &Distinct{Input: input}
}

// TopK keeps, per group, the rows at positions [Offset, Offset+Limit) of the
// group ordered by Order.
type TopK struct {
	Input             Node
	GroupKey          []int
	Order             []fixpoint.OrderColumn
	Limit             int
	Offset            int
	ExpectedGroupSize int
}

func (t *TopK) Arity() int       { return t.Input.Arity() }
func (t *TopK) Children() []Node { return []Node{t.Input} }

func NewTopK(input Node, groupKey []int, order []fixpoint.OrderColumn, limit, offset int) *TopK {
	return &TopK{Input: input, GroupKey: groupKey, Order: order, Limit: limit, Offset: offset}
}

// Negate flips every multiplicity.
type Negate struct {
	Input Node
}

func (n *Negate) Arity() int       { return n.Input.Arity() }
func (n *Negate) Children() []Node { return []Node{n.Input} }

func NewNegate(input Node) *Negate { return &Negate{Input: input} }

// Threshold clamps multiplicities below zero to zero.
type Threshold struct {
	Input Node
}

func (t *Threshold) Arity() int       { return t.Input.Arity() }
func (t *Threshold) Children() []Node { return []Node{t.Input} }

func NewThreshold(input Node) *Threshold { return &Threshold{Input: input} }

// Union sums the multiplicities of its inputs.
type Union struct {
	Inputs []Node
}

func (u *Union) Arity() int {
	if len(u.Inputs) == 0 {
		return 0
	}
	return u.Inputs[0].Arity()
}

func (u *Union) Children() []Node { return u.Inputs }

func NewUnion(inputs ...Node) *Union { return &Union{Inputs: inputs} }

// ArrangeBy requests that its input be indexed by each key.
type ArrangeBy struct {
	Input Node
	Keys  [][]int
}

func (a *ArrangeBy) Arity() int       { return a.Input.Arity() }
func (a *ArrangeBy) Children() []Node { return []Node{a.Input} }

func NewArrangeBy(input Node, keys ...[]int) *ArrangeBy {
	return &ArrangeBy{Input: input, Keys: keys}
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Walk visits every node reachable from root once, children first.
func Walk(root Node, fn func(Node)) {
	seen := make(map[Node]bool)
	var visit func(Node)
	visit = func(n Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.Children() {
			visit(c)
		}
		fn(n)
	}
	visit(root)
}
