// Package annotations records execution events of the fixpoint engine and
// formats them for humans.
package annotations

import (
	"sync"
	"time"
)

// Event names, grouped by what they describe.
const (
	// Query lifecycle
	QueryInvoked     = "query/invoked"
	QueryPlanCreated = "query/plan.created"
	QueryComplete    = "query/completed"

	// Scopes and recursion
	ScopeBegin     = "scope/begin"
	RoundComplete  = "round/complete"
	GroupConverged = "group/converged"

	// Operators
	JoinDelta         = "join/delta"
	ReduceGroups      = "reduce/groups"
	ArrangementBuilt  = "arrangement/built"
	ArrangementReused = "arrangement/reused"
)

// Event is a single annotation recorded during execution.
type Event struct {
	Name    string                 // one of the constants above
	Start   time.Time              // start timestamp
	End     time.Time              // end timestamp
	Latency time.Duration          // End - Start
	Data    map[string]interface{} // event-specific metrics
	Caller  string                 // optional file:line
}

// Handler processes events as they occur.
type Handler func(event Event)

// Collector accumulates events of one execution. It is safe for concurrent
// use by the operator workers.
type Collector struct {
	enabled bool
	handler Handler
	events  []Event
	mu      sync.Mutex
}

// NewCollector creates a collector. A nil handler disables collection.
func NewCollector(handler Handler) *Collector {
	return &Collector{
		enabled: handler != nil,
		handler: handler,
		events:  make([]Event, 0, 64),
	}
}

// Handler returns the underlying event handler.
func (c *Collector) Handler() Handler {
	return c.handler
}

// Add records an event and passes it to the handler.
func (c *Collector) Add(event Event) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()

	// Call handler outside the lock to avoid deadlocks
	c.handler(event)
}

// AddTiming records an event that started at start and ends now.
func (c *Collector) AddTiming(name string, start time.Time, data map[string]interface{}) {
	if !c.enabled {
		return
	}
	end := time.Now()
	c.Add(Event{
		Name:    name,
		Start:   start,
		End:     end,
		Latency: end.Sub(start),
		Data:    data,
	})
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Named returns the collected events with the given name, in order.
func (c *Collector) Named(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears collected events, keeping the handler.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
