package plan

// analyzeMonotonic marks the Distinct and TopK nodes whose input only ever
// receives insertions. A node shared by several scopes is marked only if it
// qualifies in all of them.
func (c *Compiled) analyzeMonotonic() {
	nonNeg := c.nonNegativeBindings()

	mark := func(n Node, mono bool) {
		if prev, seen := c.monotonic[n]; seen {
			c.monotonic[n] = prev && mono
			return
		}
		c.monotonic[n] = mono
	}

	scopes := c.scopeRoots()
	for i, roots := range scopes {
		var memberMono map[int]bool
		if i < len(c.Groups) && c.Groups[i].Recursive {
			memberMono = c.monotonicMembers(c.Groups[i], nonNeg)
		}
		a := &monoAnalysis{c: c, nonNeg: nonNeg, members: memberMono, memo: make(map[Node]bool)}
		for _, r := range roots {
			Walk(r, func(n Node) {
				switch x := n.(type) {
				case *Distinct:
					mark(n, a.mono(x.Input))
				case *TopK:
					mark(n, a.mono(x.Input))
				}
			})
		}
	}
}

// nonNegativeBindings computes, as a greatest fixpoint, which bindings can
// never hold a negative multiplicity.
func (c *Compiled) nonNegativeBindings() []bool {
	nonNeg := make([]bool, len(c.Bindings))
	for i := range nonNeg {
		nonNeg[i] = true
	}
	for changed := true; changed; {
		changed = false
		memo := make(map[Node]bool)
		for i, b := range c.Bindings {
			if nonNeg[i] && !c.nonNegative(b.Body, nonNeg, memo) {
				nonNeg[i] = false
				changed = true
			}
		}
	}
	return nonNeg
}

func (c *Compiled) nonNegative(n Node, bindings []bool, memo map[Node]bool) bool {
	if v, ok := memo[n]; ok {
		return v
	}
	var v bool
	switch x := n.(type) {
	case *Get:
		ref := c.refs[x]
		v = ref.Kind == RefSource || bindings[ref.Index]
	case *Constant:
		v = true
		for _, u := range x.Rows {
			if u.Diff <= 0 {
				v = false
			}
		}
	case *Negate:
		v = false
	case *Threshold, *Distinct, *Reduce, *TopK:
		v = true
	default:
		v = true
		for _, in := range n.Children() {
			if !c.nonNegative(in, bindings, memo) {
				v = false
			}
		}
	}
	memo[n] = v
	return v
}

// monotonicMembers computes which members of a recursive group only ever
// produce insertion deltas, assuming all do and refuting until stable.
func (c *Compiled) monotonicMembers(g *Group, nonNeg []bool) map[int]bool {
	members := make(map[int]bool, len(g.Members))
	for _, m := range g.Members {
		members[m] = true
	}
	for changed := true; changed; {
		changed = false
		a := &monoAnalysis{c: c, nonNeg: nonNeg, members: members, memo: make(map[Node]bool)}
		for _, m := range g.Members {
			if members[m] && !a.mono(c.Bindings[m].Body) {
				members[m] = false
				changed = true
			}
		}
	}
	return members
}

type monoAnalysis struct {
	c       *Compiled
	nonNeg  []bool
	members map[int]bool // nil outside recursive scopes
	memo    map[Node]bool
}

// mono reports whether every delta the node emits within this scope is an
// insertion.
func (a *monoAnalysis) mono(n Node) bool {
	if v, ok := a.memo[n]; ok {
		return v
	}
	var v bool
	if a.members == nil {
		// Evaluated once: the single delta is the full content.
		v = a.c.nonNegative(n, a.nonNeg, make(map[Node]bool))
		a.memo[n] = v
		return v
	}

	switch x := n.(type) {
	case *Get:
		ref := a.c.refs[x]
		if ref.Kind == RefSource {
			v = true
		} else if mono, inGroup := a.members[ref.Index]; inGroup {
			v = mono
		} else {
			v = a.nonNeg[ref.Index]
		}
	case *Constant:
		v = a.c.nonNegative(n, a.nonNeg, make(map[Node]bool))
	case *Negate, *Reduce, *TopK:
		v = false
	default:
		// Distinct and Threshold over insertions only add rows; the linear
		// operators and joins preserve signs.
		v = true
		for _, in := range n.Children() {
			if !a.mono(in) {
				v = false
			}
		}
	}
	a.memo[n] = v
	return v
}
