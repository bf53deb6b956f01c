package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
)

// Sources provides the external collections a plan reads with Get.
type Sources interface {
	// Source returns the named collection. A missing name must yield an
	// error matching fixpoint.ErrUnknownSource.
	Source(ctx context.Context, name string) (*collection.Collection, error)
}

// MemorySources serves collections from a map.
type MemorySources map[string]*collection.Collection

// Source implements Sources.
func (m MemorySources) Source(_ context.Context, name string) (*collection.Collection, error) {
	c, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fixpoint.ErrUnknownSource, name)
	}
	return c, nil
}

// Names returns the source names in order.
func (m MemorySources) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadSource reads and validates one source.
func loadSource(ctx context.Context, src Sources, name string, arity int) (*collection.Collection, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: %s (no sources configured)", fixpoint.ErrUnknownSource, name)
	}
	c, err := src.Source(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", name, err)
	}
	c = c.Consolidate()
	if u, ok := c.CheckArity(arity); !ok {
		return nil, &fixpoint.ArityError{Binding: name, Expected: arity, Got: len(u.Row), Row: u.Row}
	}
	if u, neg := c.HasNegative(); neg {
		return nil, fixpoint.NegativeAccumulationf("source %s holds %s with multiplicity %d", name, u.Row, u.Diff)
	}
	return c, nil
}
