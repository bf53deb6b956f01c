// Package executor evaluates compiled plans: it runs every recursion group to
// its fixpoint with incremental operators and returns the final collection.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/annotations"
	"github.com/wbrown/janus-fixpoint/fixpoint/arrangement"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/plan"
)

// Engine executes plans. It is safe for concurrent use; every call to
// Execute owns its own state.
type Engine struct {
	opts    Options
	pool    *WorkerPool
	cache   *plan.Cache
	handler annotations.Handler
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	workers := opts.MaxWorkers
	if !opts.EnableParallel {
		workers = 1
	}
	if opts.IterationCap <= 0 {
		opts.IterationCap = DefaultOptions().IterationCap
	}
	return &Engine{
		opts:  opts,
		pool:  NewWorkerPool(workers),
		cache: plan.NewCache(opts.PlanCacheSize),
	}
}

// SetHandler enables annotations for subsequent executions.
func (e *Engine) SetHandler(handler annotations.Handler) {
	e.handler = handler
}

// Options returns the engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// Cache returns the compiled-plan cache.
func (e *Engine) Cache() *plan.Cache {
	return e.cache
}

// Compile decodes and compiles EDN plan text, reusing cached plans.
func (e *Engine) Compile(text string) (*plan.Compiled, error) {
	return e.cache.GetOrCompile(text, func(text string) (*plan.Compiled, error) {
		p, err := plan.Decode(text)
		if err != nil {
			return nil, err
		}
		return plan.Compile(p)
	})
}

// ExecuteText compiles and executes EDN plan text.
func (e *Engine) ExecuteText(ctx context.Context, text string, sources Sources) (*Result, error) {
	compiled, err := e.Compile(text)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, compiled, sources)
}

// Execute evaluates a compiled plan against sources.
func (e *Engine) Execute(ctx context.Context, compiled *plan.Compiled, sources Sources) (*Result, error) {
	xc := NewContext(e.handler)
	return e.ExecuteWithContext(ctx, xc, compiled, sources)
}

// ExecuteWithContext evaluates a compiled plan, reporting to xc.
func (e *Engine) ExecuteWithContext(ctx context.Context, xc Context, compiled *plan.Compiled, sources Sources) (*Result, error) {
	xc.QueryBegin(compiled)
	if xc.Collector() != nil {
		xc.QueryPlanCreated(plan.Explain(compiled))
	}

	ex := &execution{
		ctx:      ctx,
		xc:       xc,
		opts:     e.opts,
		pool:     e.pool,
		compiled: compiled,
	}
	ex.store = arrangement.NewStore(func(slot int, keyCols []int, arr *arrangement.Arrangement) {
		xc.ArrangementBuilt(compiled.SlotName(slot), keyCols, arr.Size())
	}, func(slot int, keyCols []int, _ *arrangement.Arrangement) {
		xc.ArrangementReused(compiled.SlotName(slot), keyCols)
	})

	res, err := ex.run(sources)
	rows := 0
	if res != nil {
		rows = len(res.Rows)
	}
	xc.QueryComplete(rows, ex.rounds, err)
	if err != nil {
		return nil, err
	}
	res.ExecutionID = xc.ExecutionID()
	res.Rounds = ex.rounds
	return res, nil
}

// execution is the state of one Execute call.
type execution struct {
	ctx      context.Context
	xc       Context
	opts     Options
	pool     *WorkerPool
	compiled *plan.Compiled

	// bindings holds the committed contents of every binding; sources the
	// loaded external collections. Together they make up the store slots.
	bindings []*accumulator
	sources  []*collection.Collection
	store    *arrangement.Store
	rounds   int
}

// contents returns the committed collection of a slot.
func (ex *execution) contents(slot int) *collection.Collection {
	if slot < len(ex.bindings) {
		return ex.bindings[slot].collection()
	}
	return ex.sources[slot-len(ex.bindings)]
}

func (ex *execution) run(sources Sources) (*Result, error) {
	c := ex.compiled
	ex.bindings = make([]*accumulator, len(c.Bindings))
	for i := range c.Bindings {
		ex.bindings[i] = newAccumulator()
	}
	ex.sources = make([]*collection.Collection, len(c.Sources))
	for i, s := range c.Sources {
		coll, err := loadSource(ex.ctx, sources, s.Name, s.Arity)
		if err != nil {
			return nil, err
		}
		ex.sources[i] = coll
	}

	for _, g := range c.Groups {
		if err := ex.ctx.Err(); err != nil {
			return nil, err
		}
		if err := ex.runGroup(g); err != nil {
			return nil, err
		}
	}
	return ex.finish()
}

// runGroup evaluates one recursion group to its fixpoint. Non-recursive
// groups run a single round.
func (ex *execution) runGroup(g *plan.Group) error {
	c := ex.compiled
	start := time.Now()
	names := c.MemberNames(g)
	label := strings.Join(names, ", ")
	ex.xc.ScopeBegin(label, g.Recursive)

	s := newScope(ex, g)
	for round := 1; ; round++ {
		if round > ex.opts.IterationCap {
			return &fixpoint.IterationCapError{Group: names, Cap: ex.opts.IterationCap}
		}
		if err := ex.ctx.Err(); err != nil {
			return err
		}
		ex.rounds++

		deltas, err := s.evalMembers()
		if err != nil {
			return err
		}

		changed, deltaRows := 0, 0
		for _, d := range deltas {
			if d.Len() > 0 {
				changed++
				deltaRows += d.Len()
			}
		}
		ex.xc.RoundComplete(label, round, changed, deltaRows)

		if changed == 0 {
			rows := 0
			for _, m := range g.Members {
				rows += ex.bindings[m].len()
			}
			ex.xc.GroupConverged(label, round, rows, start)
			return nil
		}

		if err := ex.commit(g, deltas); err != nil {
			return err
		}
		s.advance(deltas)

		if !g.Recursive {
			// A single evaluation defines a non-recursive binding.
			ex.xc.GroupConverged(label, round, ex.bindings[g.Members[0]].len(), start)
			return nil
		}
	}
}

// commit validates the round's deltas and folds them into the committed
// contents of every member at once. Nothing changes if any member fails.
func (ex *execution) commit(g *plan.Group, deltas []*collection.Collection) error {
	c := ex.compiled
	for i, m := range g.Members {
		b := c.Bindings[m]
		d := deltas[i]
		if d.Len() == 0 {
			continue
		}
		if err := checkDelta(b, d); err != nil {
			return err
		}
		count, u, neg := ex.bindings[m].check(d)
		if neg {
			return fixpoint.NegativeAccumulationf("binding %s holds %s with multiplicity %d", b.Name, u.Row, u.Diff)
		}
		if limit := ex.opts.MaxCollectionRows; limit > 0 && count > int64(limit) {
			return &fixpoint.ResourceError{What: "binding " + b.Name, Limit: limit, Size: int(count)}
		}
	}

	for i, m := range g.Members {
		if deltas[i].Len() == 0 {
			continue
		}
		ex.bindings[m].apply(deltas[i])
		ex.store.Invalidate(m)
	}
	return nil
}

// checkDelta verifies the width and declared column types of delta rows.
func checkDelta(b *plan.Binding, d *collection.Collection) error {
	if u, ok := d.CheckArity(b.Arity); !ok {
		return &fixpoint.ArityError{Binding: b.Name, Expected: b.Arity, Got: len(u.Row), Row: u.Row}
	}
	if len(b.Types) == 0 {
		return nil
	}
	for _, u := range d.Updates() {
		for col, t := range b.Types {
			if !t.Accepts(u.Row[col]) {
				return &fixpoint.TypeError{Binding: b.Name, Column: col, Expected: t, Got: u.Row[col]}
			}
		}
	}
	return nil
}

func (ex *execution) checkLimit(what string, c *collection.Collection) error {
	limit := ex.opts.MaxCollectionRows
	if limit <= 0 {
		return nil
	}
	if n := c.Count(); n > int64(limit) {
		return &fixpoint.ResourceError{What: what, Limit: limit, Size: int(n)}
	}
	return nil
}

// finish evaluates the returned body over the committed bindings.
func (ex *execution) finish() (*Result, error) {
	c := ex.compiled
	s := newScope(ex, nil)
	out, err := s.evalRoot(c.Body)
	if err != nil {
		return nil, fmt.Errorf("return: %w", err)
	}
	out = out.Consolidate()
	if u, neg := out.HasNegative(); neg {
		return nil, fixpoint.NegativeAccumulationf("result holds %s with multiplicity %d", u.Row, u.Diff)
	}
	if err := ex.checkLimit("result", out); err != nil {
		return nil, err
	}
	return newResult(c, out), nil
}

// accumulator holds the committed contents of a binding as a map from
// encoded row to multiplicity, so a round costs time in its delta only.
type accumulator struct {
	rows  map[string]*collection.Update
	count int64

	mu     sync.Mutex
	cached *collection.Collection
}

func newAccumulator() *accumulator {
	return &accumulator{rows: make(map[string]*collection.Update)}
}

// check returns the row count after applying a consolidated delta and the
// first row that would be left with a negative multiplicity.
func (a *accumulator) check(d *collection.Collection) (int64, collection.Update, bool) {
	count := a.count
	for _, u := range d.Updates() {
		next := u.Diff
		if cur, ok := a.rows[string(fixpoint.EncodeRow(u.Row))]; ok {
			next += cur.Diff
		}
		if next < 0 {
			return 0, collection.Update{Row: u.Row, Diff: next}, true
		}
		count += u.Diff
	}
	return count, collection.Update{}, false
}

// apply folds a consolidated delta into the contents.
func (a *accumulator) apply(d *collection.Collection) {
	for _, u := range d.Updates() {
		k := string(fixpoint.EncodeRow(u.Row))
		a.count += u.Diff
		if cur, ok := a.rows[k]; ok {
			cur.Diff += u.Diff
			if cur.Diff == 0 {
				delete(a.rows, k)
			}
			continue
		}
		a.rows[k] = &collection.Update{Row: u.Row, Diff: u.Diff}
	}
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}

// collection materializes the contents. Concurrent readers share one copy.
func (a *accumulator) collection() *collection.Collection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cached == nil {
		updates := make([]collection.Update, 0, len(a.rows))
		for _, u := range a.rows {
			updates = append(updates, *u)
		}
		a.cached = collection.FromUpdates(updates)
	}
	return a.cached
}

func (a *accumulator) len() int {
	return len(a.rows)
}
