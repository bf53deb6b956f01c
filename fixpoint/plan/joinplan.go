package plan

import "sort"

// JoinStep extends a partial join result with one input. The partial result
// is addressed by global column positions; the input by its own positions.
type JoinStep struct {
	Input     int
	InputKey  []int
	PrefixKey []int
}

// JoinPlan is the compiled form of a Join.
type JoinPlan struct {
	Impl    JoinImpl
	Width   int
	Offsets []int
	Arities []int
	// Classes are the equivalence classes with at least two members, each
	// sorted, as global column positions.
	Classes [][]int
	// Orders holds one extension order per delta term for ImplDelta, each
	// starting with the term's own input. For ImplDifferential it holds the
	// single left-deep chain over inputs in order.
	Orders [][]JoinStep
}

func newJoinPlan(j *Join) *JoinPlan {
	p := &JoinPlan{Impl: j.Implementation, Width: j.Arity()}
	if p.Impl == ImplDefault {
		if len(j.Inputs) <= 2 {
			p.Impl = ImplDifferential
		} else {
			p.Impl = ImplDelta
		}
	}

	offset := 0
	for _, in := range j.Inputs {
		p.Offsets = append(p.Offsets, offset)
		p.Arities = append(p.Arities, in.Arity())
		offset += in.Arity()
	}

	for _, class := range j.Equivalences {
		cls := dedupSorted(class)
		if len(cls) >= 2 {
			p.Classes = append(p.Classes, cls)
		}
	}

	n := len(j.Inputs)
	if p.Impl == ImplDifferential {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		p.Orders = [][]JoinStep{p.steps(order)}
		return p
	}

	for start := 0; start < n; start++ {
		order := []int{start}
		used := make([]bool, n)
		used[start] = true
		for len(order) < n {
			next := -1
			for cand := 0; cand < n && next < 0; cand++ {
				if !used[cand] && p.connected(order, cand) {
					next = cand
				}
			}
			if next < 0 {
				for cand := 0; cand < n; cand++ {
					if !used[cand] {
						next = cand
						break
					}
				}
			}
			used[next] = true
			order = append(order, next)
		}
		p.Orders = append(p.Orders, p.steps(order))
	}
	return p
}

// InputOf returns the input owning a global column.
func (p *JoinPlan) InputOf(col int) int {
	i := sort.Search(len(p.Offsets), func(i int) bool { return p.Offsets[i] > col })
	return i - 1
}

func (p *JoinPlan) connected(present []int, cand int) bool {
	in := make(map[int]bool, len(present))
	for _, i := range present {
		in[i] = true
	}
	for _, cls := range p.Classes {
		hasPresent, hasCand := false, false
		for _, col := range cls {
			owner := p.InputOf(col)
			hasPresent = hasPresent || in[owner]
			hasCand = hasCand || owner == cand
		}
		if hasPresent && hasCand {
			return true
		}
	}
	return false
}

func (p *JoinPlan) steps(order []int) []JoinStep {
	present := map[int]bool{}
	steps := make([]JoinStep, 0, len(order))
	for _, input := range order {
		step := JoinStep{Input: input}
		for _, cls := range p.Classes {
			prefixCol, inputCol := -1, -1
			for _, col := range cls {
				owner := p.InputOf(col)
				if present[owner] && prefixCol < 0 {
					prefixCol = col
				}
				if owner == input && inputCol < 0 {
					inputCol = col - p.Offsets[input]
				}
			}
			if prefixCol >= 0 && inputCol >= 0 {
				step.PrefixKey = append(step.PrefixKey, prefixCol)
				step.InputKey = append(step.InputKey, inputCol)
			}
		}
		present[input] = true
		steps = append(steps, step)
	}
	return steps
}

func dedupSorted(xs []int) []int {
	out := append([]int(nil), xs...)
	sort.Ints(out)
	n := 0
	for i, x := range out {
		if i == 0 || x != out[n-1] {
			out[n] = x
			n++
		}
	}
	return out[:n]
}
