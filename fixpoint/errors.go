package fixpoint

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every fatal error returned by the engine matches one of these
// with errors.Is.
var (
	ErrPlan                 = errors.New("invalid plan")
	ErrUnknownSource        = errors.New("unknown source")
	ErrArity                = errors.New("arity mismatch")
	ErrType                 = errors.New("type mismatch")
	ErrIterationCap         = errors.New("iteration cap exceeded")
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrNegativeAccumulation = errors.New("negative accumulation")
	ErrEval                 = errors.New("evaluation error")
)

// PlanError reports a malformed plan detected at compile time.
type PlanError struct {
	Binding string
	Reason  string
}

func (e *PlanError) Error() string {
	if e.Binding == "" {
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plan: binding %s: %s", e.Binding, e.Reason)
}

func (e *PlanError) Unwrap() error { return ErrPlan }

// PlanErrorf builds a PlanError with a formatted reason.
func PlanErrorf(binding, format string, args ...interface{}) *PlanError {
	return &PlanError{Binding: binding, Reason: fmt.Sprintf(format, args...)}
}

// ArityError reports a delta row whose width differs from the binding's.
type ArityError struct {
	Binding  string
	Expected int
	Got      int
	Row      Row
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("binding %s: expected arity %d, got %d in row %s",
		e.Binding, e.Expected, e.Got, e.Row)
}

func (e *ArityError) Unwrap() error { return ErrArity }

// TypeError reports a value that violates a binding's declared column type.
type TypeError struct {
	Binding  string
	Column   int
	Expected ColumnType
	Got      Datum
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("binding %s: column %d expects %s, got %s",
		e.Binding, e.Column, e.Expected, FormatDatum(e.Got))
}

func (e *TypeError) Unwrap() error { return ErrType }

// IterationCapError reports a recursive group that did not converge within
// the configured number of rounds.
type IterationCapError struct {
	Group []string
	Cap   int
}

func (e *IterationCapError) Error() string {
	return fmt.Sprintf("recursive group [%s] did not converge within %d iterations",
		strings.Join(e.Group, ", "), e.Cap)
}

func (e *IterationCapError) Unwrap() error { return ErrIterationCap }

// ResourceError reports a collection that outgrew a configured limit.
type ResourceError struct {
	What  string
	Limit int
	Size  int
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s holds %d rows, limit is %d", e.What, e.Size, e.Limit)
}

func (e *ResourceError) Unwrap() error { return ErrResourceExhausted }

// QueryError is a runtime expression error that reached a position where the
// engine needs a concrete value, such as a join key or a filter predicate.
type QueryError struct {
	Op  string
	Err *EvalError
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Message)
}

func (e *QueryError) Unwrap() []error { return []error{ErrEval, e.Err} }

// NegativeAccumulationf wraps ErrNegativeAccumulation with context.
func NegativeAccumulationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNegativeAccumulation, fmt.Sprintf(format, args...))
}
