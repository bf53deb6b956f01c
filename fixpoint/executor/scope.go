package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/plan"
)

// scope evaluates the bodies of one group, or the returned body, one round
// at a time. Every node yields the change of its output since the previous
// round; operators that need history keep it in per-node state that lives
// as long as the scope.
type scope struct {
	ex      *execution
	group   *plan.Group
	members map[int]int // binding index -> position in group.Members
	deltas  []*collection.Collection

	mu    sync.Mutex
	state map[plan.Node]interface{}
	memo  map[plan.Node]*memoEntry
}

type memoEntry struct {
	once sync.Once
	out  *collection.Collection
	err  error
}

func newScope(ex *execution, g *plan.Group) *scope {
	s := &scope{
		ex:      ex,
		group:   g,
		members: make(map[int]int),
		state:   make(map[plan.Node]interface{}),
		memo:    make(map[plan.Node]*memoEntry),
	}
	if g != nil {
		s.deltas = make([]*collection.Collection, len(g.Members))
		for i, m := range g.Members {
			s.members[m] = i
			s.deltas[i] = collection.New()
		}
	}
	return s
}

// evalMembers evaluates every member body for the current round and
// returns their consolidated deltas.
func (s *scope) evalMembers() ([]*collection.Collection, error) {
	c := s.ex.compiled
	return ExecuteParallel(s.ex.ctx, s.ex.pool, s.group.Members, func(_ context.Context, member int) (*collection.Collection, error) {
		b := c.Bindings[member]
		d, err := s.eval(b.Body)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", b.Name, err)
		}
		return d.Consolidate(), nil
	})
}

// evalRoot evaluates a single body once.
func (s *scope) evalRoot(n plan.Node) (*collection.Collection, error) {
	return s.eval(n)
}

// advance makes the committed deltas visible to the next round.
func (s *scope) advance(deltas []*collection.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.deltas, deltas)
	s.memo = make(map[plan.Node]*memoEntry)
}

// stateOf returns the persistent state of a node, creating it on first use.
func (s *scope) stateOf(n plan.Node, create func() interface{}) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[n]
	if !ok {
		st = create()
		s.state[n] = st
	}
	return st
}

// eval returns the round's output delta of n. Each node is evaluated once
// per round even when shared by several parents or members.
func (s *scope) eval(n plan.Node) (*collection.Collection, error) {
	s.mu.Lock()
	e, ok := s.memo[n]
	if !ok {
		e = &memoEntry{}
		s.memo[n] = e
	}
	s.mu.Unlock()

	e.once.Do(func() {
		if err := s.ex.ctx.Err(); err != nil {
			e.err = err
			return
		}
		e.out, e.err = s.evalNode(n)
	})
	return e.out, e.err
}

func (s *scope) evalNode(n plan.Node) (*collection.Collection, error) {
	switch x := n.(type) {
	case *plan.Get:
		return s.evalGet(x), nil
	case *plan.Constant:
		return s.once(x, func() *collection.Collection {
			return collection.FromUpdates(append([]collection.Update(nil), x.Rows...))
		}), nil
	case *plan.Project:
		in, err := s.eval(x.Input)
		if err != nil {
			return nil, err
		}
		return in.Map(func(r fixpoint.Row) fixpoint.Row { return r.Project(x.Outputs) }), nil
	case *plan.Map:
		in, err := s.eval(x.Input)
		if err != nil {
			return nil, err
		}
		return in.Map(func(r fixpoint.Row) fixpoint.Row { return evalMap(r, x.Exprs) }), nil
	case *plan.Filter:
		in, err := s.eval(x.Input)
		if err != nil {
			return nil, err
		}
		return evalFilter(in, x.Predicates)
	case *plan.FlatMap:
		in, err := s.eval(x.Input)
		if err != nil {
			return nil, err
		}
		return s.evalGenerateSeries(in, x.Func.Args)
	case *plan.Join:
		return s.evalJoin(x)
	case *plan.Reduce:
		return s.evalReduce(x)
	case *plan.Distinct:
		return s.evalDistinct(x)
	case *plan.TopK:
		return s.evalTopK(x)
	case *plan.Threshold:
		return s.evalThreshold(x)
	case *plan.Negate:
		in, err := s.eval(x.Input)
		if err != nil {
			return nil, err
		}
		return in.Negate(), nil
	case *plan.Union:
		parts := make([]*collection.Collection, len(x.Inputs))
		for i, in := range x.Inputs {
			d, err := s.eval(in)
			if err != nil {
				return nil, err
			}
			parts[i] = d
		}
		return parts[0].Union(parts[1:]...), nil
	case *plan.ArrangeBy:
		return s.eval(x.Input)
	default:
		return nil, fixpoint.PlanErrorf("", "unknown operator %T", n)
	}
}

// evalGet reads a collection. Members of the scope's own group contribute
// the delta committed by the previous round; anything defined outside the
// group is already final and is fed whole in the first round.
func (s *scope) evalGet(g *plan.Get) *collection.Collection {
	ref := s.ex.compiled.Resolve(g)
	if ref.Kind == plan.RefBinding {
		if i, ok := s.members[ref.Index]; ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.deltas[i]
		}
	}
	return s.once(g, func() *collection.Collection { return s.ex.contents(ref.Slot) })
}

type fedState struct {
	fed bool
}

// once emits the collection built by full in the first round and nothing
// afterwards.
func (s *scope) once(n plan.Node, full func() *collection.Collection) *collection.Collection {
	st := s.stateOf(n, func() interface{} { return &fedState{} }).(*fedState)
	if st.fed {
		return collection.New()
	}
	st.fed = true
	return full()
}

// evalMap appends one column per expression; each expression sees the
// columns appended before it.
func evalMap(r fixpoint.Row, exprs []plan.Expr) fixpoint.Row {
	out := make(fixpoint.Row, len(r), len(r)+len(exprs))
	copy(out, r)
	for _, e := range exprs {
		out = append(out, e.Eval(out))
	}
	return out
}

func evalFilter(in *collection.Collection, preds []plan.Expr) (*collection.Collection, error) {
	b := collection.NewBuilder(in.Len())
	for _, u := range in.Updates() {
		keep := true
		for _, p := range preds {
			v := p.Eval(u.Row)
			if e, ok := v.(*fixpoint.EvalError); ok {
				return nil, &fixpoint.QueryError{Op: "filter predicate", Err: e}
			}
			if v != true {
				keep = false
				break
			}
		}
		if keep {
			b.Add(u.Row, u.Diff)
		}
	}
	return b.Build(), nil
}

// evalGenerateSeries appends every value of generate_series(start, stop[,
// step]) to each input row. A NULL argument produces no rows.
func (s *scope) evalGenerateSeries(in *collection.Collection, args []plan.Expr) (*collection.Collection, error) {
	limit := int64(s.ex.opts.MaxCollectionRows)
	b := collection.NewBuilder(in.Len())
	for i, u := range in.Updates() {
		if i%1024 == 0 {
			if err := s.ex.ctx.Err(); err != nil {
				return nil, err
			}
		}
		bounds := [3]int64{0, 0, 1}
		null := false
		for j, a := range args {
			switch v := a.Eval(u.Row).(type) {
			case nil:
				null = true
			case *fixpoint.EvalError:
				return nil, &fixpoint.QueryError{Op: plan.GenerateSeries, Err: v}
			case int64:
				bounds[j] = v
			default:
				return nil, &fixpoint.QueryError{Op: plan.GenerateSeries, Err: fixpoint.NewEvalError(
					fmt.Sprintf("generate_series expects integer arguments, got %s", fixpoint.FormatDatum(v)))}
			}
		}
		if null {
			continue
		}
		start, stop, step := bounds[0], bounds[1], bounds[2]
		if step == 0 {
			return nil, &fixpoint.QueryError{Op: plan.GenerateSeries, Err: fixpoint.NewEvalError(fixpoint.MsgZeroStep)}
		}
		for v := start; (step > 0 && v <= stop) || (step < 0 && v >= stop); {
			row := make(fixpoint.Row, len(u.Row), len(u.Row)+1)
			copy(row, u.Row)
			b.Add(append(row, v), u.Diff)
			if limit > 0 && int64(b.Len()) > limit {
				return nil, &fixpoint.ResourceError{What: plan.GenerateSeries, Limit: int(limit), Size: b.Len()}
			}
			next, ok := plan.AddInt64(v, step)
			if !ok {
				break
			}
			v = next
		}
	}
	return b.Build(), nil
}
