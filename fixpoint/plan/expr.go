package plan

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Expr is a scalar expression over the columns of one row. Evaluation never
// fails: runtime errors are returned as *fixpoint.EvalError datums.
type Expr interface {
	Eval(row fixpoint.Row) fixpoint.Datum
	String() string
}

// Column references an input column by position.
type Column struct {
	Index int
}

func (c Column) Eval(row fixpoint.Row) fixpoint.Datum { return row[c.Index] }
func (c Column) String() string                       { return "#" + strconv.Itoa(c.Index) }

// Col is shorthand for Column{i}.
func Col(i int) Column { return Column{Index: i} }

// Literal is a constant datum.
type Literal struct {
	Value fixpoint.Datum
}

func (l Literal) Eval(fixpoint.Row) fixpoint.Datum { return l.Value }
func (l Literal) String() string                   { return fixpoint.FormatDatum(l.Value) }

// Lit wraps a Go value as a literal; ints are widened to int64.
func Lit(v interface{}) Literal {
	if n, ok := v.(int); ok {
		return Literal{Value: int64(n)}
	}
	return Literal{Value: v}
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNotEq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpConcat
)

var binaryOpSymbols = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "=", OpNotEq: "!=", OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">=",
	OpAnd: "AND", OpOr: "OR", OpConcat: "||",
}

func (op BinaryOp) String() string {
	return binaryOpSymbols[op]
}

// ParseBinaryOp maps an operator symbol to a BinaryOp.
func ParseBinaryOp(s string) (BinaryOp, bool) {
	switch strings.ToLower(s) {
	case "and":
		return OpAnd, true
	case "or":
		return OpOr, true
	case "<>":
		return OpNotEq, true
	}
	for op, sym := range binaryOpSymbols {
		if sym == s {
			return op, true
		}
	}
	return 0, false
}

// Binary applies an operator to two operands.
type Binary struct {
	Op          BinaryOp
	Left, Right Expr
}

func (b Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

func (b Binary) Eval(row fixpoint.Row) fixpoint.Datum {
	l, r := b.Left.Eval(row), b.Right.Eval(row)
	switch b.Op {
	case OpAnd:
		return evalAnd(l, r)
	case OpOr:
		return evalOr(l, r)
	}

	if e, ok := l.(*fixpoint.EvalError); ok {
		return e
	}
	if e, ok := r.(*fixpoint.EvalError); ok {
		return e
	}
	if l == nil || r == nil {
		return nil
	}

	switch b.Op {
	case OpEq:
		return fixpoint.CompareDatums(l, r) == 0
	case OpNotEq:
		return fixpoint.CompareDatums(l, r) != 0
	case OpLt:
		return fixpoint.CompareDatums(l, r) < 0
	case OpLte:
		return fixpoint.CompareDatums(l, r) <= 0
	case OpGt:
		return fixpoint.CompareDatums(l, r) > 0
	case OpGte:
		return fixpoint.CompareDatums(l, r) >= 0
	case OpConcat:
		ls, lok := l.(string)
		rs, rok := r.(string)
		if !lok || !rok {
			return fixpoint.NewEvalError(fmt.Sprintf("operator does not exist: %T || %T", l, r))
		}
		return ls + rs
	}
	return arithmetic(b.Op, l, r)
}

// Add, Sub, Eq and friends build binary expressions.
func Add(l, r Expr) Binary { return Binary{Op: OpAdd, Left: l, Right: r} }
func Sub(l, r Expr) Binary { return Binary{Op: OpSub, Left: l, Right: r} }
func Mul(l, r Expr) Binary { return Binary{Op: OpMul, Left: l, Right: r} }
func Eq(l, r Expr) Binary  { return Binary{Op: OpEq, Left: l, Right: r} }
func Gt(l, r Expr) Binary  { return Binary{Op: OpGt, Left: l, Right: r} }
func Lt(l, r Expr) Binary  { return Binary{Op: OpLt, Left: l, Right: r} }
func And(l, r Expr) Binary { return Binary{Op: OpAnd, Left: l, Right: r} }

// evalAnd: false dominates, then errors, then NULL.
func evalAnd(l, r fixpoint.Datum) fixpoint.Datum {
	if l == false || r == false {
		return false
	}
	if d := firstNonBool(l, r, "AND"); d != nil {
		return d
	}
	if l == nil || r == nil {
		return nil
	}
	return true
}

// evalOr: true dominates, then errors, then NULL.
func evalOr(l, r fixpoint.Datum) fixpoint.Datum {
	if l == true || r == true {
		return true
	}
	if d := firstNonBool(l, r, "OR"); d != nil {
		return d
	}
	if l == nil || r == nil {
		return nil
	}
	return false
}

func firstNonBool(l, r fixpoint.Datum, op string) fixpoint.Datum {
	for _, d := range []fixpoint.Datum{l, r} {
		switch v := d.(type) {
		case nil, bool:
		case *fixpoint.EvalError:
			return v
		default:
			return fixpoint.NewEvalError("argument of " + op + " must be type boolean")
		}
	}
	return nil
}

func arithmetic(op BinaryOp, l, r fixpoint.Datum) fixpoint.Datum {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		return intArithmetic(op, li, ri)
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return fixpoint.NewEvalError(fmt.Sprintf("operator does not exist: %s %s %s",
			typeName(l), op, typeName(r)))
	}
	switch op {
	case OpAdd:
		return lf + rf
	case OpSub:
		return lf - rf
	case OpMul:
		return lf * rf
	case OpDiv:
		if rf == 0 {
			return fixpoint.NewEvalError(fixpoint.MsgDivisionByZero)
		}
		return lf / rf
	case OpMod:
		if rf == 0 {
			return fixpoint.NewEvalError(fixpoint.MsgDivisionByZero)
		}
		return math.Mod(lf, rf)
	}
	return fixpoint.NewEvalError("unsupported operator " + op.String())
}

func intArithmetic(op BinaryOp, l, r int64) fixpoint.Datum {
	switch op {
	case OpAdd:
		if sum, ok := AddInt64(l, r); ok {
			return sum
		}
		return fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)
	case OpSub:
		diff := l - r
		if (l >= 0) != (r >= 0) && (diff >= 0) != (l >= 0) {
			return fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)
		}
		return diff
	case OpMul:
		if p, ok := MulInt64(l, r); ok {
			return p
		}
		return fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)
	case OpDiv:
		if r == 0 {
			return fixpoint.NewEvalError(fixpoint.MsgDivisionByZero)
		}
		if l == math.MinInt64 && r == -1 {
			return fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)
		}
		return l / r
	case OpMod:
		if r == 0 {
			return fixpoint.NewEvalError(fixpoint.MsgDivisionByZero)
		}
		if r == -1 {
			return int64(0)
		}
		return l % r
	}
	return fixpoint.NewEvalError("unsupported operator " + op.String())
}

// MulInt64 multiplies with overflow detection.
func MulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	neg := (a < 0) != (b < 0)
	ua, ub := absUint(a), absUint(b)
	hi, lo := bits.Mul64(ua, ub)
	if hi != 0 {
		return 0, false
	}
	if neg {
		if lo > 1<<63 {
			return 0, false
		}
		return int64(-lo), true
	}
	if lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

// AddInt64 adds with overflow detection.
func AddInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (a >= 0) == (b >= 0) && (sum >= 0) != (a >= 0) {
		return 0, false
	}
	return sum, true
}

func absUint(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

func toFloat(d fixpoint.Datum) (float64, bool) {
	switch v := d.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func typeName(d fixpoint.Datum) string {
	switch d.(type) {
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	}
	return fmt.Sprintf("%T", d)
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
	OpIsNull
)

// Unary applies a unary operator.
type Unary struct {
	Op    UnaryOp
	Input Expr
}

func (u Unary) String() string {
	switch u.Op {
	case OpNot:
		return fmt.Sprintf("NOT(%s)", u.Input)
	case OpNeg:
		return fmt.Sprintf("-%s", u.Input)
	default:
		return fmt.Sprintf("(%s) IS NULL", u.Input)
	}
}

func (u Unary) Eval(row fixpoint.Row) fixpoint.Datum {
	v := u.Input.Eval(row)
	if u.Op == OpIsNull {
		if e, ok := v.(*fixpoint.EvalError); ok {
			return e
		}
		return v == nil
	}
	switch x := v.(type) {
	case nil:
		return nil
	case *fixpoint.EvalError:
		return x
	case bool:
		if u.Op == OpNot {
			return !x
		}
	case int64:
		if u.Op == OpNeg {
			if x == math.MinInt64 {
				return fixpoint.NewEvalError(fixpoint.MsgNumericOverflow)
			}
			return -x
		}
	case float64:
		if u.Op == OpNeg {
			return -x
		}
	}
	return fixpoint.NewEvalError(fmt.Sprintf("invalid operand for %s: %s", u, typeName(v)))
}

// If evaluates Then when Cond is true and Else otherwise (false or NULL).
type If struct {
	Cond, Then, Else Expr
}

func (i If) String() string {
	return fmt.Sprintf("case when %s then %s else %s end", i.Cond, i.Then, i.Else)
}

func (i If) Eval(row fixpoint.Row) fixpoint.Datum {
	switch c := i.Cond.Eval(row).(type) {
	case *fixpoint.EvalError:
		return c
	case bool:
		if c {
			return i.Then.Eval(row)
		}
	}
	return i.Else.Eval(row)
}

// Cast converts a value to a scalar type.
type Cast struct {
	Input Expr
	To    fixpoint.ScalarType
}

func (c Cast) String() string {
	return fmt.Sprintf("%s::%s", c.Input, c.To)
}

func (c Cast) Eval(row fixpoint.Row) fixpoint.Datum {
	v := c.Input.Eval(row)
	if v == nil {
		return nil
	}
	if e, ok := v.(*fixpoint.EvalError); ok {
		return e
	}
	switch c.To {
	case fixpoint.TypeAny:
		return v
	case fixpoint.TypeInt:
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			r := math.Round(x)
			if math.IsNaN(r) || r < math.MinInt64 || r >= math.MaxInt64 {
				return fixpoint.NewEvalError("integer out of range")
			}
			return int64(r)
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return invalidInput("int", x)
			}
			return n
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		}
	case fixpoint.TypeFloat:
		switch x := v.(type) {
		case int64:
			return float64(x)
		case float64:
			return x
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return invalidInput("float", x)
			}
			return f
		}
	case fixpoint.TypeString:
		if s, ok := v.(string); ok {
			return s
		}
		return fixpoint.FormatDatum(v)
	case fixpoint.TypeBool:
		switch x := v.(type) {
		case bool:
			return x
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return invalidInput("bool", x)
			}
			return b
		}
	}
	return fixpoint.NewEvalError(fmt.Sprintf("cannot cast %s to %s", typeName(v), c.To))
}

func invalidInput(typ, s string) *fixpoint.EvalError {
	return fixpoint.NewEvalError(fmt.Sprintf("invalid input syntax for type %s: %q", typ, s))
}

// exprColumns calls fn for every column referenced by e.
func exprColumns(e Expr, fn func(int)) {
	switch x := e.(type) {
	case Column:
		fn(x.Index)
	case Binary:
		exprColumns(x.Left, fn)
		exprColumns(x.Right, fn)
	case Unary:
		exprColumns(x.Input, fn)
	case If:
		exprColumns(x.Cond, fn)
		exprColumns(x.Then, fn)
		exprColumns(x.Else, fn)
	case Cast:
		exprColumns(x.Input, fn)
	}
}

// maxColumn returns the highest referenced column, or -1.
func maxColumn(e Expr) int {
	m := -1
	exprColumns(e, func(i int) {
		if i > m {
			m = i
		}
	})
	return m
}
