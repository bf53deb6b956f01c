// Package plan defines the operator graph evaluated by the executor: scalar
// expressions, operator nodes, named bindings and their compilation into
// recursion scopes.
package plan

import (
	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Binding is a named collection defined by a body. Members of a cycle of
// bindings must all be marked Recursive.
type Binding struct {
	Name      string
	Arity     int
	Types     []fixpoint.ColumnType
	Body      Node
	Recursive bool
}

// Finishing describes the ordering, window and final projection applied to
// the returned collection.
type Finishing struct {
	Order   []fixpoint.OrderColumn
	Limit   int
	Offset  int
	Project []int
}

// Plan is a set of bindings and the body whose result is returned.
type Plan struct {
	Bindings  []*Binding
	Body      Node
	Finishing *Finishing
}

// RefKind says what a Get resolves to.
type RefKind int

const (
	RefBinding RefKind = iota
	RefSource
)

// Ref is a resolved Get. Slot numbers bindings first, then sources, and
// identifies the collection in the arrangement store.
type Ref struct {
	Kind  RefKind
	Index int
	Slot  int
}

// Source is an external collection referenced by the plan.
type Source struct {
	Name  string
	Arity int
}

// Group is a strongly connected component of the binding graph.
type Group struct {
	ID        int
	Members   []int
	Recursive bool
}

// Compiled is a validated plan with its recursion structure resolved.
// It is immutable and may be shared between executions.
type Compiled struct {
	Plan     *Plan
	Bindings []*Binding
	Sources  []Source
	// Groups in evaluation order: every group only reads groups before it.
	Groups []*Group
	// Body is the returned node with Finishing's TopK applied, before the
	// final projection.
	Body Node
	// Return is Body with the final projection.
	Return Node

	names     map[string]int
	sources   map[string]int
	refs      map[*Get]Ref
	groupOf   []int
	monotonic map[Node]bool
	joins     map[*Join]*JoinPlan
}

// Resolve returns what a Get reads.
func (c *Compiled) Resolve(g *Get) Ref {
	return c.refs[g]
}

// BindingIndex returns the position of a named binding.
func (c *Compiled) BindingIndex(name string) (int, bool) {
	i, ok := c.names[name]
	return i, ok
}

// GroupOf returns the group containing binding i.
func (c *Compiled) GroupOf(i int) *Group {
	return c.Groups[c.groupOf[i]]
}

// IsMonotonic reports whether a Distinct or TopK only ever sees insertions.
func (c *Compiled) IsMonotonic(n Node) bool {
	return c.monotonic[n]
}

// JoinPlan returns the compiled lookup plan of a join.
func (c *Compiled) JoinPlan(j *Join) *JoinPlan {
	return c.joins[j]
}

// Slots returns the number of arrangement store slots.
func (c *Compiled) Slots() int {
	return len(c.Bindings) + len(c.Sources)
}

// SlotName names a slot for diagnostics.
func (c *Compiled) SlotName(slot int) string {
	if slot < len(c.Bindings) {
		return c.Bindings[slot].Name
	}
	return c.Sources[slot-len(c.Bindings)].Name
}

// MemberNames returns the binding names of a group.
func (c *Compiled) MemberNames(g *Group) []string {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = c.Bindings[m].Name
	}
	return names
}
