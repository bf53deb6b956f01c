package plan

import (
	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// LowerScalarSubquery rewrites a correlated scalar subquery into ordinary
// incremental operators. outer is the outer relation and corr lists its
// correlation columns. sub yields rows whose first len(corr) columns are the
// correlation values and whose last column is the scalar value.
//
// The result has the columns of outer followed by the scalar value: the
// single matching value, NULL when nothing matches, or an error datum when
// more than one row matches.
func LowerScalarSubquery(outer Node, corr []int, sub Node) (Node, error) {
	k := len(corr)
	width := outer.Arity()
	for _, col := range corr {
		if col < 0 || col >= width {
			return nil, fixpoint.PlanErrorf("", "correlation column #%d out of range for arity %d", col, width)
		}
	}
	if sub.Arity() != k+1 {
		return nil, fixpoint.PlanErrorf("", "scalar subquery has arity %d, expected %d", sub.Arity(), k+1)
	}

	keyCols := identity(k)

	// Outer rows with a NULL correlation value never match.
	var outerNull, outerKeyed Node = nil, outer
	if k > 0 {
		var anyNull, allSet Expr
		for _, col := range corr {
			isNull := Unary{Op: OpIsNull, Input: Col(col)}
			notNull := Unary{Op: OpNot, Input: isNull}
			if anyNull == nil {
				anyNull, allSet = isNull, notNull
			} else {
				anyNull = Binary{Op: OpOr, Left: anyNull, Right: isNull}
				allSet = And(allSet, notNull)
			}
		}
		outerNull = NewMap(NewFilter(outer, anyNull), Lit(nil))
		outerKeyed = NewFilter(outer, allSet)
	}

	distinctKeys := NewDistinct(NewProject(outerKeyed, corr...))

	// Subquery rows restricted to keys the outer side asks for.
	var onKeys [][]int
	for i := 0; i < k; i++ {
		onKeys = append(onKeys, []int{i, k + i})
	}
	semi := NewProject(NewJoin([]Node{distinctKeys, sub}, onKeys...), rangeCols(k, 2*k+1)...)

	counts := NewReduce(semi, keyCols, CountStar())

	tooMany := NewMap(
		NewProject(NewFilter(counts, Gt(Col(k), Lit(1))), keyCols...),
		Lit(fixpoint.NewEvalError(fixpoint.MsgSubqueryCardinality)),
	)

	var onSingle [][]int
	for i := 0; i < k; i++ {
		onSingle = append(onSingle, []int{i, k + 1 + i})
	}
	single := NewProject(
		NewJoin([]Node{semi, NewFilter(counts, Eq(Col(k), Lit(1)))}, onSingle...),
		identity(k+1)...,
	)

	missing := NewMap(
		NewUnion(distinctKeys, NewNegate(NewProject(counts, keyCols...))),
		Lit(nil),
	)

	values := NewUnion(tooMany, single, missing)

	var onOuter [][]int
	for i, col := range corr {
		onOuter = append(onOuter, []int{col, width + i})
	}
	joined := NewProject(
		NewJoin([]Node{outerKeyed, values}, onOuter...),
		append(identity(width), width+k)...,
	)

	if outerNull == nil {
		return joined, nil
	}
	return NewUnion(joined, outerNull), nil
}

func rangeCols(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
