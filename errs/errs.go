// Package errs defines the error taxonomy shared by the training packages.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument reports bad thread counts, mismatched dimensions or beta weights.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCloneFailure reports a class model or prior that could not be deep-cloned for a worker.
	ErrCloneFailure = errors.New("clone failure")
	// ErrNumeric reports a NaN or infinite value or gradient.
	ErrNumeric = errors.New("numeric error")
	// ErrOptimizationFailure wraps failures surfaced by the numerical optimizer.
	ErrOptimizationFailure = errors.New("optimization failure")
)

// NumericError carries the context of a non-finite objective contribution.
// Class and Seq are -1 when the failure was detected in the join rather than
// for a single sequence.
type NumericError struct {
	Stage  string // "evaluate", "gradient" or "join"
	Class  int
	Seq    int
	Index  int // parameter index for gradient failures, -1 otherwise
	Value  float64
	Params []float64
}

func (e *NumericError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: non-finite %s value %v", ErrNumeric, e.Stage, e.Value)
	if e.Class >= 0 {
		fmt.Fprintf(&b, " at class %d sequence %d", e.Class, e.Seq)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, " at parameter %d", e.Index)
	}
	fmt.Fprintf(&b, " (params %v)", e.Params)
	return b.String()
}

// Unwrap makes errors.Is(err, ErrNumeric) hold.
func (e *NumericError) Unwrap() error { return ErrNumeric }

// Invalid returns an ErrInvalidArgument with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
