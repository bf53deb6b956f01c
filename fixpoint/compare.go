package fixpoint

import (
	"cmp"
	"strings"
)

// typeRank orders datums of different types. NULL sorts first, errors last.
func typeRank(d Datum) int {
	switch d.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case *EvalError:
		return 5
	default:
		return 4
	}
}

// CompareDatums compares two datums and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// NULL is less than any non-NULL value. Values of different types are
// ordered by a fixed type rank; int64 and float64 compare numerically.
func CompareDatums(left, right Datum) int {
	lr, rr := typeRank(left), typeRank(right)
	if lr != rr {
		return cmp.Compare(lr, rr)
	}

	switch l := left.(type) {
	case nil:
		return 0
	case bool:
		r := right.(bool)
		if l == r {
			return 0
		}
		if !l {
			return -1
		}
		return 1
	case int64:
		switch r := right.(type) {
		case int64:
			return cmp.Compare(l, r)
		case float64:
			return cmp.Compare(float64(l), r)
		}
	case float64:
		switch r := right.(type) {
		case int64:
			return cmp.Compare(l, float64(r))
		case float64:
			return cmp.Compare(l, r)
		}
	case string:
		return strings.Compare(l, right.(string))
	case *EvalError:
		return strings.Compare(l.Message, right.(*EvalError).Message)
	}

	return strings.Compare(FormatDatum(left), FormatDatum(right))
}

// CompareRows compares rows lexicographically; a shorter prefix sorts first.
func CompareRows(a, b Row) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := CompareDatums(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

// SQLEqual reports whether two datums are equal under SQL semantics: a NULL
// never equals anything, including another NULL.
func SQLEqual(a, b Datum) bool {
	if a == nil || b == nil {
		return false
	}
	return CompareDatums(a, b) == 0
}

// OrderColumn is one ORDER BY item over a column position.
type OrderColumn struct {
	Column    int
	Desc      bool
	NullsLast bool
}

// DefaultOrder returns the SQL default NULL placement for a direction:
// ascending puts NULLs last, descending puts them first.
func DefaultOrder(column int, desc bool) OrderColumn {
	return OrderColumn{Column: column, Desc: desc, NullsLast: !desc}
}

// CompareOrdered compares rows by an ORDER BY list, honouring direction and
// NULL placement per column. Rows equal on all order columns compare 0.
func CompareOrdered(a, b Row, order []OrderColumn) int {
	for _, o := range order {
		av, bv := a[o.Column], b[o.Column]
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			if o.NullsLast {
				return 1
			}
			return -1
		case bv == nil:
			if o.NullsLast {
				return -1
			}
			return 1
		}
		c := CompareDatums(av, bv)
		if o.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
