// Package collection implements multisets of rows with signed
// multiplicities, the value type that flows between operators.
package collection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Update is a row with a signed multiplicity.
type Update struct {
	Row  fixpoint.Row
	Diff int64
}

// Collection is a multiset of rows: a list of updates that may repeat a row
// until consolidated. Operations never mutate their receiver.
type Collection struct {
	updates      []Update
	consolidated bool
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{consolidated: true}
}

// FromRows builds a collection with multiplicity 1 per listed row.
func FromRows(rows ...fixpoint.Row) *Collection {
	c := &Collection{updates: make([]Update, 0, len(rows))}
	for _, r := range rows {
		c.updates = append(c.updates, Update{Row: r, Diff: 1})
	}
	return c
}

// FromUpdates wraps a list of updates. The slice is owned by the collection.
func FromUpdates(updates []Update) *Collection {
	return &Collection{updates: updates}
}

// Insert returns a collection with one more update.
func (c *Collection) Insert(row fixpoint.Row, diff int64) *Collection {
	out := make([]Update, len(c.updates), len(c.updates)+1)
	copy(out, c.updates)
	return &Collection{updates: append(out, Update{Row: row, Diff: diff})}
}

// Builder accumulates updates for a new collection. Operators use it to
// emit output without copying on every insert.
type Builder struct {
	updates []Update
}

// NewBuilder returns a builder with room for n updates.
func NewBuilder(n int) *Builder {
	return &Builder{updates: make([]Update, 0, n)}
}

// Add appends an update; zero diffs are dropped.
func (b *Builder) Add(row fixpoint.Row, diff int64) {
	if diff != 0 {
		b.updates = append(b.updates, Update{Row: row, Diff: diff})
	}
}

// AddCollection appends every update of c scaled by factor.
func (b *Builder) AddCollection(c *Collection, factor int64) {
	for _, u := range c.updates {
		b.Add(u.Row, u.Diff*factor)
	}
}

// Len returns the number of buffered updates.
func (b *Builder) Len() int { return len(b.updates) }

// Build returns the collection. The builder must not be reused.
func (b *Builder) Build() *Collection {
	return &Collection{updates: b.updates}
}

// Union sums multiplicities with the other collections without consolidating.
func (c *Collection) Union(others ...*Collection) *Collection {
	n := len(c.updates)
	for _, o := range others {
		n += len(o.updates)
	}
	out := make([]Update, 0, n)
	out = append(out, c.updates...)
	for _, o := range others {
		out = append(out, o.updates...)
	}
	return &Collection{updates: out, consolidated: len(others) == 0 && c.consolidated}
}

// Negate flips the sign of every multiplicity.
func (c *Collection) Negate() *Collection {
	out := make([]Update, len(c.updates))
	for i, u := range c.updates {
		out[i] = Update{Row: u.Row, Diff: -u.Diff}
	}
	return &Collection{updates: out, consolidated: c.consolidated}
}

// Filter keeps the updates whose row satisfies pred.
func (c *Collection) Filter(pred func(fixpoint.Row) bool) *Collection {
	out := make([]Update, 0, len(c.updates))
	for _, u := range c.updates {
		if pred(u.Row) {
			out = append(out, u)
		}
	}
	return &Collection{updates: out, consolidated: c.consolidated}
}

// Map applies fn to every row, keeping multiplicities.
func (c *Collection) Map(fn func(fixpoint.Row) fixpoint.Row) *Collection {
	out := make([]Update, len(c.updates))
	for i, u := range c.updates {
		out[i] = Update{Row: fn(u.Row), Diff: u.Diff}
	}
	return &Collection{updates: out}
}

// Consolidate merges equal rows, drops zero multiplicities and sorts the
// result by row order. Consolidating twice yields the same collection.
func (c *Collection) Consolidate() *Collection {
	if c.consolidated {
		return c
	}
	index := make(map[string]int, len(c.updates))
	merged := make([]Update, 0, len(c.updates))
	for _, u := range c.updates {
		key := string(fixpoint.EncodeRow(u.Row))
		if i, ok := index[key]; ok {
			merged[i].Diff += u.Diff
			continue
		}
		index[key] = len(merged)
		merged = append(merged, u)
	}

	out := merged[:0]
	for _, u := range merged {
		if u.Diff != 0 {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if r := fixpoint.CompareRows(out[i].Row, out[j].Row); r != 0 {
			return r < 0
		}
		// Rows that compare equal but encode differently (1 vs 1.0).
		return string(fixpoint.EncodeRow(out[i].Row)) < string(fixpoint.EncodeRow(out[j].Row))
	})
	return &Collection{updates: out, consolidated: true}
}

// Updates returns the raw updates. Callers must not modify the slice.
func (c *Collection) Updates() []Update {
	return c.updates
}

// Entries returns the consolidated (row, multiplicity) pairs.
func (c *Collection) Entries() []Update {
	return c.Consolidate().updates
}

// Len returns the number of raw updates.
func (c *Collection) Len() int {
	return len(c.updates)
}

// Count returns the sum of all multiplicities.
func (c *Collection) Count() int64 {
	var n int64
	for _, u := range c.updates {
		n += u.Diff
	}
	return n
}

// IsEmpty reports whether the consolidated collection has no rows.
func (c *Collection) IsEmpty() bool {
	if c.consolidated {
		return len(c.updates) == 0
	}
	return len(c.Consolidate().updates) == 0
}

// Equal compares consolidated contents.
func (c *Collection) Equal(other *Collection) bool {
	a, b := c.Entries(), other.Entries()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Diff != b[i].Diff {
			return false
		}
		if string(fixpoint.EncodeRow(a[i].Row)) != string(fixpoint.EncodeRow(b[i].Row)) {
			return false
		}
	}
	return true
}

// HasNegative returns the first consolidated row with a negative
// multiplicity.
func (c *Collection) HasNegative() (Update, bool) {
	for _, u := range c.Entries() {
		if u.Diff < 0 {
			return u, true
		}
	}
	return Update{}, false
}

// Rows expands the consolidated collection by multiplicity. Rows with a
// negative multiplicity are skipped.
func (c *Collection) Rows() []fixpoint.Row {
	var out []fixpoint.Row
	for _, u := range c.Entries() {
		for i := int64(0); i < u.Diff; i++ {
			out = append(out, u.Row)
		}
	}
	return out
}

// CheckArity returns the first update whose row width is not arity.
func (c *Collection) CheckArity(arity int) (Update, bool) {
	for _, u := range c.updates {
		if len(u.Row) != arity {
			return u, false
		}
	}
	return Update{}, true
}

// String renders the consolidated collection, e.g. {(1), (2) x 3}.
func (c *Collection) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, u := range c.Entries() {
		if i > 0 {
			sb.WriteString(", ")
		}
		if u.Diff == 1 {
			sb.WriteString(u.Row.String())
		} else {
			fmt.Fprintf(&sb, "%s x %d", u.Row, u.Diff)
		}
	}
	sb.WriteString("}")
	return sb.String()
}
