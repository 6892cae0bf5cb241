// Package errors holds the error taxonomy shared by every pipeline stage.
//
// Callers test categories with errors.Is against the sentinels below (or the
// Is* helpers); context is attached with Wrap/Wrapf or the New* constructors,
// which always keep the sentinel in the chain.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// ErrConfiguration marks structural problems detected at construction or
	// first-write time: shape mismatches, conflicting units, bad parameters.
	ErrConfiguration = errors.New("configuration error")

	// ErrMissingData marks reads of datasets that do not exist yet or whose
	// writers have not run.
	ErrMissingData = errors.New("missing data")

	// ErrStaticCaseMismatch marks a single-time-sample curve whose time does
	// not equal the target time grid.
	ErrStaticCaseMismatch = errors.New("static case mismatch")

	// ErrScheduling marks a failure of a dispatched task, surfaced at the
	// barrier that waits for it.
	ErrScheduling = errors.New("scheduling failure")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsConfiguration returns true if err is a configuration error.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsMissingData returns true if err is a missing-data error.
func IsMissingData(err error) bool { return errors.Is(err, ErrMissingData) }

// IsStaticCaseMismatch returns true if err is a static-case mismatch.
func IsStaticCaseMismatch(err error) bool { return errors.Is(err, ErrStaticCaseMismatch) }

// IsScheduling returns true if err came out of a scheduler barrier.
func IsScheduling(err error) bool { return errors.Is(err, ErrScheduling) }

// ============================================================================
// Wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewConfiguration creates a configuration error with formatted context.
func NewConfiguration(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConfiguration)
}

// NewMissingData creates a missing-data error with formatted context.
func NewMissingData(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrMissingData)
}

// NewStaticCaseMismatch reports a single-sample curve time that does not
// match the target grid.
func NewStaticCaseMismatch(curve string, curveTime float64, target []float64) error {
	return fmt.Errorf("curve %q has a single time sample %g but target grid is %v: %w",
		curve, curveTime, target, ErrStaticCaseMismatch)
}

// ============================================================================
// Task errors
// ============================================================================

// TaskError reports the failure of one scheduled task. It unwraps to both
// ErrScheduling and the task's own error, so callers can match either.
type TaskError struct {
	Task string
	Err  error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

// Unwrap exposes the scheduling sentinel and the underlying cause.
func (e *TaskError) Unwrap() []error {
	return []error{ErrScheduling, e.Err}
}

// NewTaskError wraps err as the failure of the named task. A nil err yields nil.
func NewTaskError(task string, err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Task: task, Err: err}
}
