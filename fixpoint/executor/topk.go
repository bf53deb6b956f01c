package executor

import (
	"sort"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/plan"
)

func (s *scope) evalTopK(t *plan.TopK) (*collection.Collection, error) {
	in, err := s.eval(t.Input)
	if err != nil {
		return nil, err
	}
	monotonic := s.ex.opts.EnableMonotonic && s.ex.compiled.IsMonotonic(t)
	if monotonic {
		for _, u := range in.Consolidate().Updates() {
			if u.Diff < 0 {
				return nil, fixpoint.NegativeAccumulationf("top-k over insertions received a retraction of %s", u.Row)
			}
		}
	}

	st := s.stateOf(t, func() interface{} { return newGroupedState(t.ExpectedGroupSize) }).(*groupedState)
	return s.processGroups(st, groupedOp{
		name:    "topk",
		keyCols: t.GroupKey,
		compute: func(g *groupState) ([]collection.Update, error) {
			rows := orderRows(g.sortedRows(), t.Order)
			window := topKWindow(rows, t.Offset, t.Limit)
			if monotonic && t.Limit != plan.NoLimit {
				pruneGroup(g, rows, t.Offset+t.Limit)
			}
			return window, nil
		},
	}, in)
}

// orderRows sorts updates by the order columns, breaking ties by the whole
// row so the window is deterministic.
func orderRows(rows []collection.Update, order []fixpoint.OrderColumn) []collection.Update {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := fixpoint.CompareOrdered(rows[i].Row, rows[j].Row, order); c != 0 {
			return c < 0
		}
		return fixpoint.CompareRows(rows[i].Row, rows[j].Row) < 0
	})
	return rows
}

// topKWindow expands ordered updates by multiplicity and keeps positions
// [offset, offset+limit).
func topKWindow(rows []collection.Update, offset, limit int) []collection.Update {
	var out []collection.Update
	pos := int64(0)
	lo := int64(offset)
	hi := int64(-1)
	if limit != plan.NoLimit {
		hi = lo + int64(limit)
	}
	for _, u := range rows {
		start, end := pos, pos+u.Diff
		pos = end
		if end <= lo {
			continue
		}
		if hi >= 0 && start >= hi {
			break
		}
		from, to := max(start, lo), end
		if hi >= 0 {
			to = min(end, hi)
		}
		if n := to - from; n > 0 {
			out = append(out, collection.Update{Row: u.Row, Diff: n})
		}
	}
	return out
}

// pruneGroup drops rows that can never re-enter the window of a group
// that only receives insertions.
func pruneGroup(g *groupState, ordered []collection.Update, keep int) {
	pos := int64(0)
	for _, u := range ordered {
		k := string(fixpoint.EncodeRow(u.Row))
		if pos >= int64(keep) {
			delete(g.rows, k)
			continue
		}
		if pos+u.Diff > int64(keep) {
			g.rows[k].Diff = int64(keep) - pos
		}
		pos += u.Diff
	}
}
