package fixpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Datum is a single nullable scalar value carried in a Row.
// Valid datum types:
// - nil (SQL NULL)
// - bool
// - int64
// - float64
// - string
// - *EvalError (a poisoned value produced by a failed expression)
type Datum interface{}

// Row is an ordered tuple of datums.
type Row []Datum

// Messages of the runtime expression errors raised by the engine.
const (
	MsgSubqueryCardinality = "more than one record produced by a subquery used as an expression"
	MsgDivisionByZero      = "division by zero"
	MsgNumericOverflow     = "numeric field overflow"
	MsgZeroStep            = "step size cannot equal zero"
)

// EvalError is a runtime expression error carried as a row value. It
// surfaces at the final projection instead of aborting the query, unless an
// operator needs a concrete value at that position.
type EvalError struct {
	Message string
}

// NewEvalError creates a poisoned datum with the given message.
func NewEvalError(msg string) *EvalError {
	return &EvalError{Message: msg}
}

func (e *EvalError) Error() string {
	return e.Message
}

func (e *EvalError) String() string {
	return fmt.Sprintf("error(%q)", e.Message)
}

// ScalarType is the declared type of a column.
type ScalarType byte

const (
	TypeAny ScalarType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
)

func (t ScalarType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return "any"
	}
}

// ParseScalarType maps a type name to a ScalarType.
func ParseScalarType(name string) (ScalarType, error) {
	switch name {
	case "any":
		return TypeAny, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "int", "integer", "bigint":
		return TypeInt, nil
	case "float", "double":
		return TypeFloat, nil
	case "string", "text":
		return TypeString, nil
	}
	return TypeAny, fmt.Errorf("unknown column type %q", name)
}

// ColumnType is a scalar type plus nullability.
type ColumnType struct {
	Scalar   ScalarType
	Nullable bool
}

// Accepts reports whether d is a legal value for a column of this type.
// Error datums are accepted everywhere: they are values, not type violations.
func (t ColumnType) Accepts(d Datum) bool {
	switch d.(type) {
	case nil:
		return t.Nullable
	case *EvalError:
		return true
	case bool:
		return t.Scalar == TypeAny || t.Scalar == TypeBool
	case int64:
		return t.Scalar == TypeAny || t.Scalar == TypeInt
	case float64:
		return t.Scalar == TypeAny || t.Scalar == TypeFloat
	case string:
		return t.Scalar == TypeAny || t.Scalar == TypeString
	default:
		return false
	}
}

func (t ColumnType) String() string {
	if t.Nullable {
		return t.Scalar.String()
	}
	return t.Scalar.String() + " not null"
}

// FormatDatum renders a datum the way plans and results print it.
func FormatDatum(d Datum) string {
	switch v := d.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return strconv.Quote(v)
	case *EvalError:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// String renders the row as a parenthesised tuple, e.g. (1, "a", null).
func (r Row) String() string {
	parts := make([]string, len(r))
	for i, d := range r {
		parts[i] = FormatDatum(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Clone returns a copy of the row that shares no backing array.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Project returns the datums at the given positions.
func (r Row) Project(cols []int) Row {
	out := make(Row, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// Hash returns a stable hash of the row's encoding.
func (r Row) Hash() uint64 {
	return xxhash.Sum64(EncodeRow(r))
}

// HasError returns the first error datum in the row, if any.
func (r Row) HasError() *EvalError {
	for _, d := range r {
		if e, ok := d.(*EvalError); ok {
			return e
		}
	}
	return nil
}

// Concat joins rows into one, in order.
func Concat(rows ...Row) Row {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make(Row, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
