package executor

import (
	"sort"
	"strconv"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/plan"
)

// Result is the final collection of an execution.
type Result struct {
	// Columns names the output columns by position: #0, #1, ...
	Columns []string
	// Collection is the consolidated multiset after the final projection.
	Collection *collection.Collection
	// Rows lists the result rows in finishing order, repeated by
	// multiplicity.
	Rows []fixpoint.Row

	ExecutionID string
	Rounds      int
}

func newResult(c *plan.Compiled, out *collection.Collection) *Result {
	var order []fixpoint.OrderColumn
	var project []int
	if f := c.Plan.Finishing; f != nil {
		order, project = f.Order, f.Project
	}

	entries := append([]collection.Update(nil), out.Entries()...)
	entries = orderRows(entries, order)

	width := c.Body.Arity()
	if project != nil {
		width = len(project)
	}
	res := &Result{Columns: make([]string, width)}
	for i := range res.Columns {
		res.Columns[i] = "#" + strconv.Itoa(i)
	}

	b := collection.NewBuilder(len(entries))
	for _, u := range entries {
		row := u.Row
		if project != nil {
			row = row.Project(project)
		}
		b.Add(row, u.Diff)
		for i := int64(0); i < u.Diff; i++ {
			res.Rows = append(res.Rows, row)
		}
	}
	res.Collection = b.Build().Consolidate()
	return res
}

// Len returns the number of result rows counting multiplicity.
func (r *Result) Len() int {
	return len(r.Rows)
}

// Sorted returns the rows in row order, independent of any finishing order.
func (r *Result) Sorted() []fixpoint.Row {
	out := append([]fixpoint.Row(nil), r.Rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return fixpoint.CompareRows(out[i], out[j]) < 0
	})
	return out
}
