package executor

import (
	"fmt"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/arrangement"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/plan"
)

// joinState is the history a join keeps between rounds.
type joinState struct {
	// local holds, per input that is not a committed collection, the
	// accumulated input arranged by each key the join looks it up by.
	local map[int]map[string]*arrangement.Arrangement
	// prefix holds the accumulated partial results of a differential chain,
	// indexed by stage.
	prefix map[int]*arrangement.Arrangement
}

// joinInput describes how one input is read in the current round.
type joinInput struct {
	delta *collection.Collection
	// slot is the store slot of a committed collection, or -1.
	slot   int
	deltas map[string]*arrangement.Arrangement
}

// view is one version of an input: the sum of base and plus, minus minus.
type view struct {
	base, plus, minus *arrangement.Arrangement
}

func (v view) lookup(key string, buf []collection.Update) []collection.Update {
	buf = append(buf[:0], v.base.Lookup(key)...)
	if v.plus != nil {
		buf = append(buf, v.plus.Lookup(key)...)
	}
	if v.minus != nil {
		for _, u := range v.minus.Lookup(key) {
			buf = append(buf, collection.Update{Row: u.Row, Diff: -u.Diff})
		}
	}
	return buf
}

// partial is a row of the join under construction: full output width with
// the columns of absent inputs left NULL.
type partial struct {
	row     fixpoint.Row
	diff    int64
	present []bool
}

type joinRun struct {
	s      *scope
	jp     *plan.JoinPlan
	st     *joinState
	inputs []joinInput
	buf    []collection.Update
}

func (s *scope) evalJoin(j *plan.Join) (*collection.Collection, error) {
	jp := s.ex.compiled.JoinPlan(j)
	st := s.stateOf(j, func() interface{} {
		return newJoinState(jp, func(input int) bool { return s.sharedSlot(j.Inputs[input]) < 0 })
	}).(*joinState)

	r := &joinRun{s: s, jp: jp, st: st, inputs: make([]joinInput, len(j.Inputs))}
	anyDelta := false
	for i, in := range j.Inputs {
		d, err := s.eval(in)
		if err != nil {
			return nil, err
		}
		r.inputs[i] = joinInput{delta: d, slot: s.sharedSlot(in), deltas: make(map[string]*arrangement.Arrangement)}
		anyDelta = anyDelta || d.Len() > 0
	}
	if !anyDelta {
		return collection.New(), nil
	}

	if len(j.Inputs) == 1 {
		return r.filterSingle()
	}

	name := fmt.Sprintf("%s join of %d inputs", jp.Impl, len(j.Inputs))
	terms := 0
	for _, in := range r.inputs {
		if in.delta.Len() > 0 {
			terms++
		}
	}
	out, err := s.ex.xc.JoinDelta(name, terms, func() (*collection.Collection, error) {
		if jp.Impl == plan.ImplDelta {
			return r.deltaJoin()
		}
		return r.differentialJoin()
	})
	if err != nil {
		return nil, err
	}
	r.applyLocal()
	return out, nil
}

// sharedSlot returns the store slot of an input that reads a committed
// collection directly, or -1.
func (s *scope) sharedSlot(n plan.Node) int {
	if a, ok := n.(*plan.ArrangeBy); ok {
		n = a.Input
	}
	if g, ok := n.(*plan.Get); ok {
		return s.ex.compiled.Resolve(g).Slot
	}
	return -1
}

func newJoinState(jp *plan.JoinPlan, local func(input int) bool) *joinState {
	st := &joinState{
		local:  make(map[int]map[string]*arrangement.Arrangement),
		prefix: make(map[int]*arrangement.Arrangement),
	}
	need := func(input int, keyCols []int) {
		if !local(input) {
			return
		}
		m, ok := st.local[input]
		if !ok {
			m = make(map[string]*arrangement.Arrangement)
			st.local[input] = m
		}
		k := keyString(keyCols)
		if _, ok := m[k]; !ok {
			m[k] = arrangement.New(keyCols)
		}
	}
	if len(jp.Arities) < 2 {
		return st
	}
	if jp.Impl == plan.ImplDelta {
		for _, order := range jp.Orders {
			for _, step := range order[1:] {
				need(step.Input, step.InputKey)
			}
		}
		return st
	}
	steps := jp.Orders[0]
	need(0, steps[1].PrefixKey)
	for k := 1; k < len(steps); k++ {
		need(k, steps[k].InputKey)
		if k >= 2 {
			st.prefix[k] = arrangement.New(steps[k].PrefixKey)
		}
	}
	return st
}

func keyString(keyCols []int) string {
	return fmt.Sprint(keyCols)
}

// filterSingle applies the equivalence classes of a join with one input.
func (r *joinRun) filterSingle() (*collection.Collection, error) {
	b := collection.NewBuilder(r.inputs[0].delta.Len())
	present := []bool{true}
	for _, u := range r.inputs[0].delta.Updates() {
		ok, err := r.classesHold(u.Row, present)
		if err != nil {
			return nil, err
		}
		if ok {
			b.Add(u.Row, u.Diff)
		}
	}
	return b.Build(), nil
}

// deltaArrangement arranges an input's round delta by keyCols.
func (r *joinRun) deltaArrangement(input int, keyCols []int) *arrangement.Arrangement {
	in := &r.inputs[input]
	k := keyString(keyCols)
	if a, ok := in.deltas[k]; ok {
		return a
	}
	a := arrangement.Build(in.delta, keyCols)
	in.deltas[k] = a
	return a
}

// newView is an input including this round's delta.
func (r *joinRun) newView(input int, keyCols []int) view {
	in := r.inputs[input]
	if in.slot >= 0 {
		return view{base: r.committed(in.slot, keyCols)}
	}
	return view{base: r.st.local[input][keyString(keyCols)], plus: r.deltaArrangement(input, keyCols)}
}

// oldView is an input as of the previous round.
func (r *joinRun) oldView(input int, keyCols []int) view {
	in := r.inputs[input]
	if in.slot >= 0 {
		if in.delta == r.s.ex.contents(in.slot) {
			// The first feed of a committed collection: nothing came before.
			return view{base: arrangement.New(keyCols)}
		}
		v := view{base: r.committed(in.slot, keyCols)}
		if in.delta.Len() > 0 {
			v.minus = r.deltaArrangement(input, keyCols)
		}
		return v
	}
	return view{base: r.st.local[input][keyString(keyCols)]}
}

func (r *joinRun) committed(slot int, keyCols []int) *arrangement.Arrangement {
	ex := r.s.ex
	return ex.store.GetOrBuild(slot, keyCols, func() *collection.Collection { return ex.contents(slot) })
}

func (r *joinRun) start(input int, u collection.Update) partial {
	p := partial{
		row:     make(fixpoint.Row, r.jp.Width),
		diff:    u.Diff,
		present: make([]bool, len(r.inputs)),
	}
	copy(p.row[r.jp.Offsets[input]:], u.Row)
	p.present[input] = true
	return p
}

func (r *joinRun) extend(p partial, input int, row fixpoint.Row, diff int64) partial {
	out := partial{
		row:     append(fixpoint.Row(nil), p.row...),
		diff:    p.diff * diff,
		present: append([]bool(nil), p.present...),
	}
	copy(out.row[r.jp.Offsets[input]:], row)
	out.present[input] = true
	return out
}

// classesHold checks every equivalence class over the columns of the
// present inputs. NULL equals nothing; an error value is fatal.
func (r *joinRun) classesHold(row fixpoint.Row, present []bool) (bool, error) {
	for _, cls := range r.jp.Classes {
		var first fixpoint.Datum
		seen := false
		for _, col := range cls {
			if !present[r.jp.InputOf(col)] {
				continue
			}
			v := row[col]
			if e, ok := v.(*fixpoint.EvalError); ok {
				return false, &fixpoint.QueryError{Op: "join key", Err: e}
			}
			if !seen {
				first, seen = v, true
				continue
			}
			if !fixpoint.SQLEqual(first, v) {
				return false, nil
			}
		}
	}
	return true, nil
}

// lookupKey encodes the datums of row at cols. ok is false when a NULL
// means nothing can match.
func lookupKey(row fixpoint.Row, cols []int) (string, bool, error) {
	for _, col := range cols {
		switch v := row[col].(type) {
		case nil:
			return "", false, nil
		case *fixpoint.EvalError:
			return "", false, &fixpoint.QueryError{Op: "join key", Err: v}
		}
	}
	return fixpoint.EncodeKey(row, cols), true, nil
}

// match extends p with the matches of input in v.
func (r *joinRun) match(p partial, step plan.JoinStep, v view, emit func(partial) error) error {
	key, ok, err := lookupKey(p.row, step.PrefixKey)
	if err != nil || !ok {
		return err
	}
	r.buf = v.lookup(key, r.buf)
	matches := append([]collection.Update(nil), r.buf...)
	for _, m := range matches {
		next := r.extend(p, step.Input, m.Row, m.Diff)
		hold, err := r.classesHold(next.row, next.present)
		if err != nil {
			return err
		}
		if hold && next.diff != 0 {
			if err := emit(next); err != nil {
				return err
			}
		}
	}
	return nil
}

// deltaJoin computes one term per input with a delta: that delta joined
// with the new versions of earlier inputs and the old versions of later
// ones.
func (r *joinRun) deltaJoin() (*collection.Collection, error) {
	out := collection.NewBuilder(0)
	for i, order := range r.jp.Orders {
		delta := r.inputs[i].delta
		if delta.Len() == 0 {
			continue
		}
		views := make([]view, len(order))
		for k, step := range order[1:] {
			if step.Input < i {
				views[k+1] = r.newView(step.Input, step.InputKey)
			} else {
				views[k+1] = r.oldView(step.Input, step.InputKey)
			}
		}

		var extend func(p partial, k int) error
		extend = func(p partial, k int) error {
			if k == len(order) {
				out.Add(p.row, p.diff)
				return nil
			}
			return r.match(p, order[k], views[k], func(next partial) error {
				return extend(next, k+1)
			})
		}

		for n, u := range delta.Updates() {
			if n%1024 == 0 {
				if err := r.s.ex.ctx.Err(); err != nil {
					return nil, err
				}
			}
			p := r.start(i, u)
			hold, err := r.classesHold(p.row, p.present)
			if err != nil {
				return nil, err
			}
			if !hold {
				continue
			}
			if err := extend(p, 1); err != nil {
				return nil, err
			}
		}
	}
	return out.Build(), nil
}

// differentialJoin walks the left-deep chain. The delta of the partial
// result after stage k+1 is
//
//	dP(k+1) = dP(k) x I(k) + P(k) x dI(k)
//
// with I(k) as of the previous round and P(k) including dP(k).
func (r *joinRun) differentialJoin() (*collection.Collection, error) {
	steps := r.jp.Orders[0]

	var dp []partial
	for _, u := range r.inputs[0].delta.Updates() {
		p := r.start(0, u)
		hold, err := r.classesHold(p.row, p.present)
		if err != nil {
			return nil, err
		}
		if hold {
			dp = append(dp, p)
		}
	}

	for k := 1; k < len(steps); k++ {
		if err := r.s.ex.ctx.Err(); err != nil {
			return nil, err
		}
		step := steps[k]
		var next []partial
		emit := func(p partial) error {
			next = append(next, p)
			return nil
		}

		// dP(k) x I(k) as of the previous round.
		if len(dp) > 0 {
			old := r.oldView(step.Input, step.InputKey)
			for _, p := range dp {
				if err := r.match(p, step, old, emit); err != nil {
					return nil, err
				}
			}
		}

		// P(k) including dP(k), looked up by dI(k).
		dIn := r.inputs[step.Input].delta
		var prefix *arrangement.Arrangement
		if k == 1 {
			if dIn.Len() > 0 {
				v := r.newView(0, step.PrefixKey)
				if err := r.matchBack(v, step, dIn, emit); err != nil {
					return nil, err
				}
			}
		} else {
			prefix = r.st.prefix[k]
			prefix.Apply(partialsToCollection(dp))
			if dIn.Len() > 0 {
				if err := r.matchBack(view{base: prefix}, step, dIn, emit); err != nil {
					return nil, err
				}
			}
		}
		dp = next
	}

	out := collection.NewBuilder(len(dp))
	for _, p := range dp {
		out.Add(p.row, p.diff)
	}
	return out.Build(), nil
}

// matchBack joins the delta of input step.Input with the partial results
// in v, which is keyed by step.PrefixKey.
func (r *joinRun) matchBack(v view, step plan.JoinStep, dIn *collection.Collection, emit func(partial) error) error {
	for _, u := range dIn.Updates() {
		key, ok, err := lookupKey(u.Row, step.InputKey)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		r.buf = v.lookup(key, r.buf)
		matches := append([]collection.Update(nil), r.buf...)
		for _, m := range matches {
			p := partial{row: r.widen(m.Row), diff: m.Diff, present: r.presentBefore(step.Input)}
			next := r.extend(p, step.Input, u.Row, u.Diff)
			hold, err := r.classesHold(next.row, next.present)
			if err != nil {
				return err
			}
			if hold && next.diff != 0 {
				if err := emit(next); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// widen pads a row of input 0 to the join width. Partial rows from a
// prefix arrangement are already full width.
func (r *joinRun) widen(row fixpoint.Row) fixpoint.Row {
	if len(row) == r.jp.Width {
		return row
	}
	out := make(fixpoint.Row, r.jp.Width)
	copy(out, row)
	return out
}

// presentBefore marks the inputs preceding input in the differential chain.
func (r *joinRun) presentBefore(input int) []bool {
	present := make([]bool, len(r.inputs))
	for i := 0; i < input; i++ {
		present[i] = true
	}
	return present
}

func partialsToCollection(ps []partial) *collection.Collection {
	b := collection.NewBuilder(len(ps))
	for _, p := range ps {
		b.Add(p.row, p.diff)
	}
	return b.Build()
}

// applyLocal folds the round's deltas into the join's own arrangements.
func (r *joinRun) applyLocal() {
	for input, arrs := range r.st.local {
		d := r.inputs[input].delta
		if d.Len() == 0 {
			continue
		}
		for _, a := range arrs {
			a.Apply(d)
		}
	}
}
