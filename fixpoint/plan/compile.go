package plan

import (
	"sort"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Compile validates a plan, resolves its references, splits its bindings
// into recursion groups in dependency order and prepares join lookup plans.
func Compile(p *Plan) (*Compiled, error) {
	if p == nil || p.Body == nil {
		return nil, fixpoint.PlanErrorf("", "plan has no body")
	}

	c := &Compiled{
		Plan:      p,
		Bindings:  p.Bindings,
		names:     make(map[string]int, len(p.Bindings)),
		sources:   make(map[string]int),
		refs:      make(map[*Get]Ref),
		monotonic: make(map[Node]bool),
		joins:     make(map[*Join]*JoinPlan),
	}

	for i, b := range p.Bindings {
		if b.Name == "" {
			return nil, fixpoint.PlanErrorf("", "binding %d has no name", i)
		}
		if _, dup := c.names[b.Name]; dup {
			return nil, fixpoint.PlanErrorf(b.Name, "duplicate binding name")
		}
		if b.Body == nil {
			return nil, fixpoint.PlanErrorf(b.Name, "binding has no body")
		}
		c.names[b.Name] = i
	}

	// Sources are numbered in order of first reference.
	var sourceNames []string
	edges := make([][]int, len(p.Bindings))
	for i, b := range p.Bindings {
		if err := c.validate(b.Name, b.Body, &sourceNames, &edges[i]); err != nil {
			return nil, err
		}
		if b.Body.Arity() != b.Arity {
			return nil, fixpoint.PlanErrorf(b.Name, "declared arity %d, body has arity %d", b.Arity, b.Body.Arity())
		}
		if len(b.Types) != 0 && len(b.Types) != b.Arity {
			return nil, fixpoint.PlanErrorf(b.Name, "declares %d column types for arity %d", len(b.Types), b.Arity)
		}
	}
	var returnEdges []int
	if err := c.validate("", p.Body, &sourceNames, &returnEdges); err != nil {
		return nil, err
	}

	for _, name := range sourceNames {
		c.Sources = append(c.Sources, Source{Name: name})
	}
	for g, ref := range c.refs {
		if ref.Kind == RefSource {
			ref.Slot = len(p.Bindings) + ref.Index
			c.refs[g] = ref
			c.Sources[ref.Index].Arity = g.Width
		}
	}

	if err := c.buildGroups(edges); err != nil {
		return nil, err
	}

	body, ret, err := applyFinishing(p.Body, p.Finishing)
	if err != nil {
		return nil, err
	}
	c.Body, c.Return = body, ret
	c.analyzeMonotonic()
	c.planJoins()
	return c, nil
}

func applyFinishing(body Node, f *Finishing) (Node, Node, error) {
	if f == nil {
		return body, body, nil
	}
	arity := body.Arity()
	for _, o := range f.Order {
		if o.Column < 0 || o.Column >= arity {
			return nil, nil, fixpoint.PlanErrorf("", "order by column #%d out of range for arity %d", o.Column, arity)
		}
	}
	if f.Limit < NoLimit || f.Offset < 0 {
		return nil, nil, fixpoint.PlanErrorf("", "invalid limit %d or offset %d", f.Limit, f.Offset)
	}
	for _, col := range f.Project {
		if col < 0 || col >= arity {
			return nil, nil, fixpoint.PlanErrorf("", "projected column #%d out of range for arity %d", col, arity)
		}
	}

	top := Node(NewTopK(body, nil, f.Order, f.Limit, f.Offset))
	if len(f.Order) == 0 && f.Limit == NoLimit && f.Offset == 0 {
		top = body
	}
	if f.Project == nil {
		return top, top, nil
	}
	return top, NewProject(top, f.Project...), nil
}

// validate checks node shapes under one binding body, resolves Gets and
// records binding dependencies.
func (c *Compiled) validate(binding string, root Node, sources *[]string, deps *[]int) error {
	var err error
	seenDep := make(map[int]bool)
	Walk(root, func(n Node) {
		if err != nil {
			return
		}
		err = c.validateNode(binding, n, sources, func(dep int) {
			if !seenDep[dep] {
				seenDep[dep] = true
				*deps = append(*deps, dep)
			}
		})
	})
	return err
}

func (c *Compiled) validateNode(binding string, n Node, sources *[]string, dep func(int)) error {
	checkCols := func(what string, cols []int, arity int) error {
		for _, col := range cols {
			if col < 0 || col >= arity {
				return fixpoint.PlanErrorf(binding, "%s column #%d out of range for arity %d", what, col, arity)
			}
		}
		return nil
	}
	checkExpr := func(what string, e Expr, arity int) error {
		if e == nil {
			return fixpoint.PlanErrorf(binding, "%s: missing expression", what)
		}
		if m := maxColumn(e); m >= arity {
			return fixpoint.PlanErrorf(binding, "%s %s references #%d beyond arity %d", what, e, m, arity)
		}
		return nil
	}

	switch x := n.(type) {
	case *Get:
		if i, ok := c.names[x.Name]; ok {
			if c.Bindings[i].Arity != x.Width {
				return fixpoint.PlanErrorf(binding, "Get %s with arity %d, binding has arity %d", x.Name, x.Width, c.Bindings[i].Arity)
			}
			c.refs[x] = Ref{Kind: RefBinding, Index: i, Slot: i}
			dep(i)
			return nil
		}
		if x.Name == "" {
			return fixpoint.PlanErrorf(binding, "Get without a name")
		}
		idx, ok := c.sources[x.Name]
		if !ok {
			idx = len(*sources)
			c.sources[x.Name] = idx
			*sources = append(*sources, x.Name)
		}
		for g, ref := range c.refs {
			if ref.Kind == RefSource && ref.Index == idx && g.Width != x.Width {
				return fixpoint.PlanErrorf(binding, "source %s read with arities %d and %d", x.Name, g.Width, x.Width)
			}
		}
		c.refs[x] = Ref{Kind: RefSource, Index: idx}

	case *Constant:
		for _, u := range x.Rows {
			if len(u.Row) != x.Width {
				return fixpoint.PlanErrorf(binding, "constant row %s has arity %d, expected %d", u.Row, len(u.Row), x.Width)
			}
		}

	case *Project:
		return checkCols("project", x.Outputs, x.Input.Arity())

	case *Map:
		arity := x.Input.Arity()
		for i, e := range x.Exprs {
			if err := checkExpr("map", e, arity+i); err != nil {
				return err
			}
		}

	case *Filter:
		for _, e := range x.Predicates {
			if err := checkExpr("filter", e, x.Input.Arity()); err != nil {
				return err
			}
		}

	case *FlatMap:
		if x.Func.Name != GenerateSeries {
			return fixpoint.PlanErrorf(binding, "unknown table function %s", x.Func.Name)
		}
		if len(x.Func.Args) < 2 || len(x.Func.Args) > 3 {
			return fixpoint.PlanErrorf(binding, "generate_series takes 2 or 3 arguments, got %d", len(x.Func.Args))
		}
		for _, e := range x.Func.Args {
			if err := checkExpr("generate_series", e, x.Input.Arity()); err != nil {
				return err
			}
		}

	case *Join:
		if len(x.Inputs) == 0 {
			return fixpoint.PlanErrorf(binding, "join without inputs")
		}
		for _, class := range x.Equivalences {
			if err := checkCols("join", class, x.Arity()); err != nil {
				return err
			}
		}

	case *Reduce:
		arity := x.Input.Arity()
		if err := checkCols("group by", x.GroupKey, arity); err != nil {
			return err
		}
		for _, a := range x.Aggregates {
			if a.Func == AggCountStar {
				continue
			}
			if err := checkExpr(a.String(), a.Expr, arity); err != nil {
				return err
			}
		}

	case *Distinct:
		return checkCols("distinct", x.Columns, x.Input.Arity())

	case *TopK:
		arity := x.Input.Arity()
		if err := checkCols("group by", x.GroupKey, arity); err != nil {
			return err
		}
		for _, o := range x.Order {
			if err := checkCols("order by", []int{o.Column}, arity); err != nil {
				return err
			}
		}
		if x.Limit < NoLimit || x.Offset < 0 {
			return fixpoint.PlanErrorf(binding, "invalid limit %d or offset %d", x.Limit, x.Offset)
		}

	case *Union:
		if len(x.Inputs) == 0 {
			return fixpoint.PlanErrorf(binding, "union without inputs")
		}
		for _, in := range x.Inputs[1:] {
			if in.Arity() != x.Inputs[0].Arity() {
				return fixpoint.PlanErrorf(binding, "union branches have arities %d and %d", x.Inputs[0].Arity(), in.Arity())
			}
		}

	case *ArrangeBy:
		for _, key := range x.Keys {
			if err := checkCols("arrange by", key, x.Input.Arity()); err != nil {
				return err
			}
		}

	case *Negate, *Threshold:

	default:
		return fixpoint.PlanErrorf(binding, "unknown operator %T", n)
	}
	return nil
}

// buildGroups computes the strongly connected components of the binding
// graph with Tarjan's algorithm. Components are emitted after everything
// they depend on, which is the evaluation order.
func (c *Compiled) buildGroups(edges [][]int) error {
	n := len(c.Bindings)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	next := 0
	c.groupOf = make([]int, n)

	var strongConnect func(v int)
	strongConnect = func(v int) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range edges[v] {
			if index[w] < 0 {
				strongConnect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			g := &Group{ID: len(c.Groups)}
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				g.Members = append(g.Members, w)
				c.groupOf[w] = g.ID
				if w == v {
					break
				}
			}
			sort.Ints(g.Members)
			c.Groups = append(c.Groups, g)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] < 0 {
			strongConnect(v)
		}
	}

	for _, g := range c.Groups {
		cyclic := len(g.Members) > 1
		if !cyclic {
			m := g.Members[0]
			for _, w := range edges[m] {
				if w == m {
					cyclic = true
				}
			}
		}
		anyRecursive := false
		for _, m := range g.Members {
			b := c.Bindings[m]
			anyRecursive = anyRecursive || b.Recursive
			if cyclic && !b.Recursive {
				return fixpoint.PlanErrorf(b.Name, "cyclic reference among non-recursive bindings %v", c.MemberNames(g))
			}
		}
		g.Recursive = anyRecursive
	}
	return nil
}

// scopeRoots returns the bodies evaluated in each scope: one per group plus
// the returned body.
func (c *Compiled) scopeRoots() [][]Node {
	roots := make([][]Node, 0, len(c.Groups)+1)
	for _, g := range c.Groups {
		var rs []Node
		for _, m := range g.Members {
			rs = append(rs, c.Bindings[m].Body)
		}
		roots = append(roots, rs)
	}
	return append(roots, []Node{c.Body})
}

func (c *Compiled) planJoins() {
	for _, roots := range c.scopeRoots() {
		for _, r := range roots {
			Walk(r, func(n Node) {
				if j, ok := n.(*Join); ok {
					if _, done := c.joins[j]; !done {
						c.joins[j] = newJoinPlan(j)
					}
				}
			})
		}
	}
}
