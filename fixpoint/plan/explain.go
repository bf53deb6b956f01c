package plan

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Explain renders a compiled plan as indented text, bindings first in
// evaluation order and then the returned body.
func Explain(c *Compiled) string {
	var sb strings.Builder
	lastHeader := ""
	for _, g := range c.Groups {
		header := "With"
		if g.Recursive {
			header = "With Mutually Recursive"
		}
		if g.Recursive || lastHeader != header {
			sb.WriteString(header + "\n")
		}
		lastHeader = header
		for _, m := range g.Members {
			b := c.Bindings[m]
			fmt.Fprintf(&sb, "  cte %s =\n", b.Name)
			explainNode(&sb, c, b.Body, 2)
		}
	}
	if len(c.Groups) > 0 {
		sb.WriteString("Return\n")
		explainNode(&sb, c, c.Return, 1)
	} else {
		explainNode(&sb, c, c.Return, 0)
	}
	return sb.String()
}

// ExplainNode renders a single operator tree without compile-time
// annotations.
func ExplainNode(n Node) string {
	var sb strings.Builder
	explainNode(&sb, nil, n, 0)
	return sb.String()
}

func explainNode(sb *strings.Builder, c *Compiled, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	sb.WriteString(indent)
	sb.WriteString(operatorLine(c, n))
	sb.WriteString("\n")

	if k, ok := n.(*Constant); ok {
		for _, u := range k.Rows {
			if u.Diff == 1 {
				fmt.Fprintf(sb, "%s  - %s\n", indent, u.Row)
			} else {
				fmt.Fprintf(sb, "%s  - (%s x %d)\n", indent, u.Row, u.Diff)
			}
		}
		return
	}
	for _, child := range n.Children() {
		explainNode(sb, c, child, depth+1)
	}
}

func operatorLine(c *Compiled, n Node) string {
	monotonic := func() string {
		if c != nil && c.IsMonotonic(n) {
			return " monotonic"
		}
		return ""
	}

	switch x := n.(type) {
	case *Get:
		return "Get " + x.Name
	case *Constant:
		if len(x.Rows) == 0 {
			return "Constant <empty>"
		}
		return "Constant"
	case *Project:
		return fmt.Sprintf("Project (%s)", columnList(x.Outputs))
	case *Map:
		return fmt.Sprintf("Map (%s)", joinExprs(x.Exprs))
	case *Filter:
		parts := make([]string, len(x.Predicates))
		for i, p := range x.Predicates {
			parts[i] = p.String()
		}
		return "Filter " + strings.Join(parts, " AND ")
	case *FlatMap:
		return "FlatMap " + x.Func.String()
	case *Join:
		impl := x.Implementation
		var classes [][]int
		if c != nil && c.JoinPlan(x) != nil {
			jp := c.JoinPlan(x)
			impl, classes = jp.Impl, jp.Classes
		} else {
			for _, cls := range x.Equivalences {
				if d := dedupSorted(cls); len(d) >= 2 {
					classes = append(classes, d)
				}
			}
		}
		if len(classes) == 0 {
			return fmt.Sprintf("CrossJoin type=%s", impl)
		}
		conds := make([]string, len(classes))
		for i, cls := range classes {
			cols := make([]string, len(cls))
			for j, col := range cls {
				cols[j] = Col(col).String()
			}
			conds[i] = strings.Join(cols, " = ")
		}
		return fmt.Sprintf("Join on=(%s) type=%s", strings.Join(conds, " AND "), impl)
	case *Reduce:
		var sb strings.Builder
		fmt.Fprintf(&sb, "Reduce group_by=[%s]", columnList(x.GroupKey))
		if len(x.Aggregates) > 0 {
			aggs := make([]string, len(x.Aggregates))
			for i, a := range x.Aggregates {
				aggs[i] = a.String()
			}
			fmt.Fprintf(&sb, " aggregates=[%s]", strings.Join(aggs, ", "))
		}
		if x.ExpectedGroupSize > 0 {
			fmt.Fprintf(&sb, " exp_group_size=%d", x.ExpectedGroupSize)
		}
		return sb.String()
	case *Distinct:
		return fmt.Sprintf("Distinct project=[%s]%s", columnList(x.Project()), monotonic())
	case *TopK:
		var sb strings.Builder
		sb.WriteString("TopK")
		if len(x.GroupKey) > 0 {
			fmt.Fprintf(&sb, " group_by=[%s]", columnList(x.GroupKey))
		}
		if len(x.Order) > 0 {
			fmt.Fprintf(&sb, " order_by=[%s]", orderList(x.Order))
		}
		if x.Limit != NoLimit {
			fmt.Fprintf(&sb, " limit=%d", x.Limit)
		}
		if x.Offset > 0 {
			fmt.Fprintf(&sb, " offset=%d", x.Offset)
		}
		sb.WriteString(monotonic())
		if x.ExpectedGroupSize > 0 {
			fmt.Fprintf(&sb, " exp_group_size=%d", x.ExpectedGroupSize)
		}
		return sb.String()
	case *Negate:
		return "Negate"
	case *Threshold:
		return "Threshold"
	case *Union:
		return "Union"
	case *ArrangeBy:
		keys := make([]string, len(x.Keys))
		for i, k := range x.Keys {
			keys[i] = "[" + columnList(k) + "]"
		}
		return fmt.Sprintf("ArrangeBy keys=[%s]", strings.Join(keys, ", "))
	}
	return fmt.Sprintf("%T", n)
}

func columnList(cols []int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = Col(c).String()
	}
	return strings.Join(parts, ", ")
}

func orderList(order []fixpoint.OrderColumn) string {
	parts := make([]string, len(order))
	for i, o := range order {
		dir, nulls := "asc", "nulls_first"
		if o.Desc {
			dir = "desc"
		}
		if o.NullsLast {
			nulls = "nulls_last"
		}
		parts[i] = fmt.Sprintf("%s %s %s", Col(o.Column), dir, nulls)
	}
	return strings.Join(parts, ", ")
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
