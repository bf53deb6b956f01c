// Package arrangement provides keyed indexes over collections and the
// round-scoped store that shares them between operators.
package arrangement

import (
	"sort"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
)

// Group holds the consolidated updates sharing one key.
type Group struct {
	Key     fixpoint.Row
	Updates []collection.Update
}

// Arrangement indexes a collection by the values at KeyCols. Once built it
// is safe for concurrent readers; Apply requires exclusive access.
type Arrangement struct {
	keyCols []int
	groups  map[string]*Group
	order   []string // encoded keys sorted by key row
	size    int
}

// New returns an empty arrangement keyed by keyCols.
func New(keyCols []int) *Arrangement {
	return &Arrangement{
		keyCols: append([]int(nil), keyCols...),
		groups:  make(map[string]*Group),
	}
}

// Build arranges a collection by keyCols.
func Build(c *collection.Collection, keyCols []int) *Arrangement {
	a := New(keyCols)
	a.groups = make(map[string]*Group, c.Len())
	a.Apply(c)
	return a
}

// KeyCols returns the key column positions.
func (a *Arrangement) KeyCols() []int {
	return a.keyCols
}

// Apply folds updates into the arrangement, consolidating every touched group.
func (a *Arrangement) Apply(c *collection.Collection) {
	if c.Len() == 0 {
		return
	}
	// touched maps each key to its consolidated length before this call.
	touched := make(map[string]int)
	added := false
	for _, u := range c.Updates() {
		key := fixpoint.EncodeKey(u.Row, a.keyCols)
		g, ok := a.groups[key]
		if !ok {
			g = &Group{Key: u.Row.Project(a.keyCols)}
			a.groups[key] = g
			added = true
		}
		if _, seen := touched[key]; !seen {
			touched[key] = len(g.Updates)
		}
		g.Updates = append(g.Updates, u)
	}

	removed := false
	for key, before := range touched {
		g := a.groups[key]
		g.Updates = collection.FromUpdates(g.Updates).Consolidate().Updates()
		a.size += len(g.Updates) - before
		if len(g.Updates) == 0 {
			delete(a.groups, key)
			removed = true
		}
	}
	if added || removed {
		a.sortKeys()
	}
}

func (a *Arrangement) sortKeys() {
	a.order = a.order[:0]
	for key := range a.groups {
		a.order = append(a.order, key)
	}
	sort.Slice(a.order, func(i, j int) bool {
		gi, gj := a.groups[a.order[i]], a.groups[a.order[j]]
		if c := fixpoint.CompareRows(gi.Key, gj.Key); c != 0 {
			return c < 0
		}
		return a.order[i] < a.order[j]
	})
}

// Lookup returns the updates stored under an encoded key.
func (a *Arrangement) Lookup(key string) []collection.Update {
	if g, ok := a.groups[key]; ok {
		return g.Updates
	}
	return nil
}

// LookupRow returns the updates whose key equals the datums of row at cols.
func (a *Arrangement) LookupRow(row fixpoint.Row, cols []int) []collection.Update {
	return a.Lookup(fixpoint.EncodeKey(row, cols))
}

// Range calls fn for every group whose key lies in [lo, hi], in key order.
// A nil bound is open. Iteration stops when fn returns false.
func (a *Arrangement) Range(lo, hi fixpoint.Row, fn func(*Group) bool) {
	start := 0
	if lo != nil {
		start = sort.Search(len(a.order), func(i int) bool {
			return fixpoint.CompareRows(a.groups[a.order[i]].Key, lo) >= 0
		})
	}
	for _, key := range a.order[start:] {
		g := a.groups[key]
		if hi != nil && fixpoint.CompareRows(g.Key, hi) > 0 {
			return
		}
		if !fn(g) {
			return
		}
	}
}

// Keys returns the distinct keys in order.
func (a *Arrangement) Keys() []fixpoint.Row {
	out := make([]fixpoint.Row, len(a.order))
	for i, key := range a.order {
		out[i] = a.groups[key].Key
	}
	return out
}

// Len returns the number of distinct keys.
func (a *Arrangement) Len() int {
	return len(a.groups)
}

// Size returns the number of stored updates.
func (a *Arrangement) Size() int {
	return a.size
}
