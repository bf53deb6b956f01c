package executor

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wbrown/janus-fixpoint/fixpoint/annotations"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/plan"
)

// Context provides annotation points for an execution.
type Context interface {
	ExecutionID() string

	// Execution lifecycle
	QueryBegin(c *plan.Compiled)
	QueryPlanCreated(explain string)
	QueryComplete(rows, rounds int, err error)

	// Scopes and rounds
	ScopeBegin(scope string, recursive bool)
	RoundComplete(scope string, round, changed, deltaRows int)
	GroupConverged(scope string, rounds, rows int, start time.Time)

	// Operators
	JoinDelta(join string, terms int, fn func() (*collection.Collection, error)) (*collection.Collection, error)
	ReduceGroups(operator string, groups int, parallel bool, fn func() (*collection.Collection, error)) (*collection.Collection, error)
	ArrangementBuilt(name string, keyCols []int, rows int)
	ArrangementReused(name string, keyCols []int)

	// Collector returns nil when annotations are disabled.
	Collector() *annotations.Collector
}

// NewContext returns a no-op context for a nil handler and an annotated one
// otherwise.
func NewContext(handler annotations.Handler) Context {
	id := uuid.NewString()
	if handler == nil {
		return &BaseContext{id: id}
	}
	return &AnnotatedContext{
		BaseContext: BaseContext{id: id},
		collector:   annotations.NewCollector(handler),
	}
}

// BaseContext is a pass-through implementation with no overhead.
type BaseContext struct {
	id string
}

func (c *BaseContext) ExecutionID() string { return c.id }

func (c *BaseContext) QueryBegin(*plan.Compiled) {}

func (c *BaseContext) QueryPlanCreated(string) {}

func (c *BaseContext) QueryComplete(int, int, error) {}

func (c *BaseContext) ScopeBegin(string, bool) {}

func (c *BaseContext) RoundComplete(string, int, int, int) {}

func (c *BaseContext) GroupConverged(string, int, int, time.Time) {}

func (c *BaseContext) JoinDelta(_ string, _ int, fn func() (*collection.Collection, error)) (*collection.Collection, error) {
	return fn()
}

func (c *BaseContext) ReduceGroups(_ string, _ int, _ bool, fn func() (*collection.Collection, error)) (*collection.Collection, error) {
	return fn()
}

func (c *BaseContext) ArrangementBuilt(string, []int, int) {}

func (c *BaseContext) ArrangementReused(string, []int) {}

func (c *BaseContext) Collector() *annotations.Collector { return nil }

// AnnotatedContext records every annotation point in a collector.
type AnnotatedContext struct {
	BaseContext
	collector  *annotations.Collector
	queryStart time.Time
}

func (c *AnnotatedContext) QueryBegin(compiled *plan.Compiled) {
	c.queryStart = time.Now()
	c.collector.Add(annotations.Event{
		Name:  annotations.QueryInvoked,
		Start: c.queryStart,
		Data: map[string]interface{}{
			"execution.id":   c.id,
			"bindings.count": len(compiled.Bindings),
			"groups.count":   len(compiled.Groups),
			"sources.count":  len(compiled.Sources),
		},
	})
}

func (c *AnnotatedContext) QueryPlanCreated(explain string) {
	c.collector.Add(annotations.Event{
		Name:  annotations.QueryPlanCreated,
		Start: time.Now(),
		Data: map[string]interface{}{
			"plan": explain,
		},
	})
}

func (c *AnnotatedContext) QueryComplete(rows, rounds int, err error) {
	data := map[string]interface{}{
		"execution.id": c.id,
		"rows.count":   rows,
		"rounds.total": rounds,
		"success":      err == nil,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	c.collector.AddTiming(annotations.QueryComplete, c.queryStart, data)
}

func (c *AnnotatedContext) ScopeBegin(scope string, recursive bool) {
	c.collector.Add(annotations.Event{
		Name:  annotations.ScopeBegin,
		Start: time.Now(),
		Data: map[string]interface{}{
			"scope":     scope,
			"recursive": recursive,
		},
	})
}

func (c *AnnotatedContext) RoundComplete(scope string, round, changed, deltaRows int) {
	c.collector.Add(annotations.Event{
		Name:  annotations.RoundComplete,
		Start: time.Now(),
		Data: map[string]interface{}{
			"scope":      scope,
			"round":      round,
			"changed":    changed,
			"delta.rows": deltaRows,
		},
	})
}

func (c *AnnotatedContext) GroupConverged(scope string, rounds, rows int, start time.Time) {
	c.collector.AddTiming(annotations.GroupConverged, start, map[string]interface{}{
		"scope":      scope,
		"rounds":     rounds,
		"rows.count": rows,
	})
}

func (c *AnnotatedContext) JoinDelta(join string, terms int, fn func() (*collection.Collection, error)) (*collection.Collection, error) {
	start := time.Now()
	out, err := fn()

	data := map[string]interface{}{
		"join":    join,
		"terms":   terms,
		"success": err == nil,
	}
	if out != nil {
		data["output.rows"] = out.Len()
	}
	c.collector.AddTiming(annotations.JoinDelta, start, data)
	return out, err
}

func (c *AnnotatedContext) ReduceGroups(operator string, groups int, parallel bool, fn func() (*collection.Collection, error)) (*collection.Collection, error) {
	start := time.Now()
	out, err := fn()

	data := map[string]interface{}{
		"operator":        operator,
		"groups.affected": groups,
		"parallel":        parallel,
		"success":         err == nil,
	}
	if out != nil {
		data["output.rows"] = out.Len()
	}
	c.collector.AddTiming(annotations.ReduceGroups, start, data)
	return out, err
}

func (c *AnnotatedContext) ArrangementBuilt(name string, keyCols []int, rows int) {
	c.collector.Add(annotations.Event{
		Name:  annotations.ArrangementBuilt,
		Start: time.Now(),
		Data: map[string]interface{}{
			"collection": name,
			"key":        keyList(keyCols),
			"rows":       rows,
		},
	})
}

func (c *AnnotatedContext) ArrangementReused(name string, keyCols []int) {
	c.collector.Add(annotations.Event{
		Name:  annotations.ArrangementReused,
		Start: time.Now(),
		Data: map[string]interface{}{
			"collection": name,
			"key":        keyList(keyCols),
		},
	})
}

// keyList renders key columns as "#0, #2".
func keyList(keyCols []int) string {
	keys := make([]string, len(keyCols))
	for i, k := range keyCols {
		keys[i] = plan.Col(k).String()
	}
	return strings.Join(keys, ", ")
}

func (c *AnnotatedContext) Collector() *annotations.Collector {
	return c.collector
}
