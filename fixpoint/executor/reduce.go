package executor

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/plan"
)

// groupState is the accumulated input and last emitted output of one group.
type groupState struct {
	key  fixpoint.Row
	rows map[string]*collection.Update
	out  []collection.Update
}

// sortedRows returns the group's rows with nonzero multiplicity in row order.
func (g *groupState) sortedRows() []collection.Update {
	out := make([]collection.Update, 0, len(g.rows))
	for _, u := range g.rows {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		return fixpoint.CompareRows(out[i].Row, out[j].Row) < 0
	})
	return out
}

// groupedState is the state of an operator that recomputes whole groups.
type groupedState struct {
	groups   map[string]*groupState
	sizeHint int
}

func newGroupedState(sizeHint int) *groupedState {
	return &groupedState{groups: make(map[string]*groupState), sizeHint: sizeHint}
}

// computeFunc derives the output of a group from its accumulated rows.
type computeFunc func(g *groupState) ([]collection.Update, error)

// groupedOp describes a grouped operator for processGroups.
type groupedOp struct {
	name     string
	keyCols  []int
	allowNeg bool
	compute  computeFunc
}

type touchedGroup struct {
	key     string
	state   *groupState
	updates []collection.Update
}

// partitionGroups assigns each touched group to a worker by the hash of
// its key row.
func partitionGroups(touched []touchedGroup, workers int) [][]touchedGroup {
	parts := make([][]touchedGroup, workers)
	for _, t := range touched {
		w := t.state.key.Hash() % uint64(workers)
		parts[w] = append(parts[w], t)
	}
	return parts
}

// processGroups folds delta into the groups it touches and emits, per
// group, the new output minus the previous one. Many touched groups are
// spread over the worker pool by key hash.
func (s *scope) processGroups(st *groupedState, op groupedOp, delta *collection.Collection) (*collection.Collection, error) {
	if delta.Len() == 0 {
		return collection.New(), nil
	}

	index := make(map[string]int)
	var touched []touchedGroup
	for _, u := range delta.Updates() {
		key := fixpoint.EncodeKey(u.Row, op.keyCols)
		i, ok := index[key]
		if !ok {
			g, exists := st.groups[key]
			if !exists {
				g = &groupState{key: u.Row.Project(op.keyCols), rows: make(map[string]*collection.Update, st.sizeHint)}
				st.groups[key] = g
			}
			i = len(touched)
			index[key] = i
			touched = append(touched, touchedGroup{key: key, state: g})
		}
		touched[i].updates = append(touched[i].updates, u)
	}

	opts := s.ex.opts
	workers := s.ex.pool.GetWorkerCount()
	parallel := opts.EnableParallel && workers > 1 && len(touched) >= opts.ParallelGroupThreshold

	out, err := s.ex.xc.ReduceGroups(op.name, len(touched), parallel, func() (*collection.Collection, error) {
		if !parallel {
			b := collection.NewBuilder(len(touched))
			for _, t := range touched {
				if err := updateGroup(t, op, b); err != nil {
					return nil, err
				}
			}
			return b.Build(), nil
		}

		parts := partitionGroups(touched, workers)
		builders := make([]*collection.Builder, workers)
		err := s.ex.pool.Run(s.ex.ctx, workers, func(ctx context.Context, w int) error {
			b := collection.NewBuilder(len(parts[w]))
			for _, t := range parts[w] {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := updateGroup(t, op, b); err != nil {
					return err
				}
			}
			builders[w] = b
			return nil
		})
		if err != nil {
			return nil, err
		}
		merged := collection.NewBuilder(len(touched))
		for _, b := range builders {
			merged.AddCollection(b.Build(), 1)
		}
		return merged.Build(), nil
	})
	if err != nil {
		return nil, err
	}

	for _, t := range touched {
		if len(t.state.rows) == 0 {
			delete(st.groups, t.key)
		}
	}
	return out, nil
}

func updateGroup(t touchedGroup, op groupedOp, b *collection.Builder) error {
	g := t.state
	for _, u := range t.updates {
		k := string(fixpoint.EncodeRow(u.Row))
		if cur, ok := g.rows[k]; ok {
			cur.Diff += u.Diff
			if cur.Diff == 0 {
				delete(g.rows, k)
			}
			continue
		}
		g.rows[k] = &collection.Update{Row: u.Row, Diff: u.Diff}
	}
	if !op.allowNeg {
		for _, u := range g.rows {
			if u.Diff < 0 {
				return fixpoint.NegativeAccumulationf("%s input holds %s with multiplicity %d", op.name, u.Row, u.Diff)
			}
		}
	}

	var next []collection.Update
	if len(g.rows) > 0 {
		var err error
		next, err = op.compute(g)
		if err != nil {
			return err
		}
	}
	for _, u := range g.out {
		b.Add(u.Row, -u.Diff)
	}
	for _, u := range next {
		b.Add(u.Row, u.Diff)
	}
	g.out = next
	return nil
}

func (s *scope) evalReduce(r *plan.Reduce) (*collection.Collection, error) {
	in, err := s.eval(r.Input)
	if err != nil {
		return nil, err
	}
	st := s.stateOf(r, func() interface{} { return newGroupedState(r.ExpectedGroupSize) }).(*groupedState)
	return s.processGroups(st, groupedOp{
		name:    "reduce",
		keyCols: r.GroupKey,
		compute: func(g *groupState) ([]collection.Update, error) {
			rows := g.sortedRows()
			out := make(fixpoint.Row, 0, len(g.key)+len(r.Aggregates))
			out = append(out, g.key...)
			for _, a := range r.Aggregates {
				out = append(out, aggregate(a, rows))
			}
			return []collection.Update{{Row: out, Diff: 1}}, nil
		},
	}, in)
}

// distinctState is the append-only state of a Distinct over insertions.
type distinctState struct {
	seen map[string]bool
}

func (s *scope) evalDistinct(d *plan.Distinct) (*collection.Collection, error) {
	in, err := s.eval(d.Input)
	if err != nil {
		return nil, err
	}
	cols := d.Project()

	if s.ex.opts.EnableMonotonic && s.ex.compiled.IsMonotonic(d) {
		st := s.stateOf(d, func() interface{} { return &distinctState{seen: make(map[string]bool)} }).(*distinctState)
		b := collection.NewBuilder(in.Len())
		for _, u := range in.Consolidate().Updates() {
			if u.Diff < 0 {
				return nil, fixpoint.NegativeAccumulationf("distinct over insertions received a retraction of %s", u.Row)
			}
			key := fixpoint.EncodeKey(u.Row, cols)
			if st.seen[key] {
				continue
			}
			st.seen[key] = true
			b.Add(u.Row.Project(cols), 1)
		}
		return b.Build(), nil
	}

	st := s.stateOf(d, func() interface{} { return newGroupedState(0) }).(*groupedState)
	return s.processGroups(st, groupedOp{
		name:    "distinct",
		keyCols: cols,
		compute: func(g *groupState) ([]collection.Update, error) {
			var n int64
			for _, u := range g.rows {
				n += u.Diff
			}
			if n <= 0 {
				return nil, nil
			}
			return []collection.Update{{Row: g.key, Diff: 1}}, nil
		},
	}, in)
}

func (s *scope) evalThreshold(t *plan.Threshold) (*collection.Collection, error) {
	in, err := s.eval(t.Input)
	if err != nil {
		return nil, err
	}
	st := s.stateOf(t, func() interface{} { return newGroupedState(1) }).(*groupedState)
	return s.processGroups(st, groupedOp{
		name:     "threshold",
		keyCols:  identityCols(t.Arity()),
		allowNeg: true,
		compute: func(g *groupState) ([]collection.Update, error) {
			var out []collection.Update
			for _, u := range g.rows {
				if u.Diff > 0 {
					out = append(out, *u)
				}
			}
			return out, nil
		},
	}, in)
}

func identityCols(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// aggregate evaluates one aggregate over a group's rows, given in row order.
// Errors surface as error datums: the first one in row order wins.
func aggregate(a plan.Aggregate, rows []collection.Update) fixpoint.Datum {
	if a.Func == plan.AggCountStar {
		var n int64
		for _, u := range rows {
			n += u.Diff
		}
		return n
	}

	type value struct {
		v    fixpoint.Datum
		mult int64
	}
	var values []value
	seen := make(map[string]bool)
	for _, u := range rows {
		v := a.Expr.Eval(u.Row)
		if e, ok := v.(*fixpoint.EvalError); ok {
			return e
		}
		if v == nil {
			continue
		}
		if a.Distinct {
			k := string(fixpoint.EncodeRow(fixpoint.Row{v}))
			if seen[k] {
				continue
			}
			seen[k] = true
			values = append(values, value{v: v, mult: 1})
			continue
		}
		values = append(values, value{v: v, mult: u.Diff})
	}

	switch a.Func {
	case plan.AggCount:
		var n int64
		for _, v := range values {
			n += v.mult
		}
		return n
	case plan.AggMin, plan.AggMax:
		if len(values) == 0 {
			return nil
		}
		best := values[0].v
		for _, v := range values[1:] {
			c := fixpoint.CompareDatums(v.v, best)
			if (a.Func == plan.AggMin && c < 0) || (a.Func == plan.AggMax && c > 0) {
				best = v.v
			}
		}
		return best
	case plan.AggSum, plan.AggAvg:
		if len(values) == 0 {
			return nil
		}
		var isum int64
		var fsum float64
		var count int64
		float := false
		for _, v := range values {
			count += v.mult
			switch x := v.v.(type) {
			case int64:
				if float {
					fsum += float64(x) * float64(v.mult)
					continue
				}
				p, ok := plan.MulInt64(x, v.mult)
				if ok {
					isum, ok = plan.AddInt64(isum, p)
				}
				if !ok {
					return fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)
				}
			case float64:
				if !float {
					float = true
					fsum = float64(isum)
				}
				fsum += x * float64(v.mult)
			default:
				return fixpoint.NewEvalError(fmt.Sprintf("%s of non-numeric value %s", a, fixpoint.FormatDatum(x)))
			}
		}
		if a.Func == plan.AggSum {
			if float {
				return fsum
			}
			return isum
		}
		if !float {
			fsum = float64(isum)
		}
		avg := fsum / float64(count)
		if math.IsInf(avg, 0) {
			return fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)
		}
		return avg
	}
	return fixpoint.NewEvalError("unknown aggregate " + a.String())
}
