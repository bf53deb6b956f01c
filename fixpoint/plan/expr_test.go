package plan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

func TestExprEval(t *testing.T) {
	boom := fixpoint.NewEvalError("boom")
	row := fixpoint.Row{int64(7), int64(2), nil, "a", 1.5, boom, true}

	tests := []struct {
		name     string
		expr     Expr
		expected fixpoint.Datum
	}{
		{"add", Add(Col(0), Col(1)), int64(9)},
		{"mixed numeric", Mul(Col(0), Col(4)), 10.5},
		{"null propagates", Add(Col(0), Col(2)), nil},
		{"error propagates", Add(Col(5), Col(0)), boom},
		{"division by zero", Binary{Op: OpDiv, Left: Col(0), Right: Lit(0)}, fixpoint.NewEvalError(fixpoint.MsgDivisionByZero)},
		{"integer division", Binary{Op: OpDiv, Left: Col(0), Right: Col(1)}, int64(3)},
		{"overflow", Add(Lit(int64(math.MaxInt64)), Lit(1)), fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)},
		{"sub overflow", Sub(Lit(int64(math.MinInt64)), Lit(1)), fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)},
		{"comparison", Gt(Col(0), Col(4)), true},
		{"comparison with null", Eq(Col(2), Col(2)), nil},
		{"false and error", And(Lit(false), Col(5)), false},
		{"true and null", And(Col(6), Col(2)), nil},
		{"true or error", Binary{Op: OpOr, Left: Col(6), Right: Col(5)}, true},
		{"concat", Binary{Op: OpConcat, Left: Col(3), Right: Lit("b")}, "ab"},
		{"is null", Unary{Op: OpIsNull, Input: Col(2)}, true},
		{"not", Unary{Op: OpNot, Input: Col(6)}, false},
		{"negate min int", Unary{Op: OpNeg, Input: Lit(int64(math.MinInt64))}, fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)},
		{"if null condition", If{Cond: Col(2), Then: Lit(1), Else: Lit(2)}, int64(2)},
		{"cast string to int", Cast{Input: Lit("42"), To: fixpoint.TypeInt}, int64(42)},
		{"cast float to int", Cast{Input: Col(4), To: fixpoint.TypeInt}, int64(2)},
		{"cast int to string", Cast{Input: Col(0), To: fixpoint.TypeString}, "7"},
		{"bad cast", Cast{Input: Col(3), To: fixpoint.TypeInt}, fixpoint.NewEvalError(`invalid input syntax for type int: "a"`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.expr.Eval(row))
		})
	}
}

func TestCheckedArithmetic(t *testing.T) {
	_, ok := MulInt64(math.MaxInt64, 2)
	assert.False(t, ok)
	p, ok := MulInt64(math.MinInt64, 1)
	assert.True(t, ok)
	assert.Equal(t, int64(math.MinInt64), p)
	p, ok = MulInt64(-3, 4)
	assert.True(t, ok)
	assert.Equal(t, int64(-12), p)

	_, ok = AddInt64(math.MinInt64, -1)
	assert.False(t, ok)
	s, ok := AddInt64(-5, 3)
	assert.True(t, ok)
	assert.Equal(t, int64(-2), s)
}

func TestParseBinaryOp(t *testing.T) {
	for sym, want := range map[string]BinaryOp{
		"+": OpAdd, "<=": OpLte, "AND": OpAnd, "or": OpOr, "<>": OpNotEq, "!=": OpNotEq, "||": OpConcat,
	} {
		got, ok := ParseBinaryOp(sym)
		assert.True(t, ok, sym)
		assert.Equal(t, want, got, sym)
	}
	_, ok := ParseBinaryOp("**")
	assert.False(t, ok)
}
