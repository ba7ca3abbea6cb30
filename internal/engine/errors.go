package engine

import (
	"errors"
	"fmt"

	"taskline/internal/store"
)

// Error taxonomy surfaced by engine operations. The server maps these to
// HTTP statuses; the CLI prints them as-is.
var (
	ErrNotFound = store.ErrNotFound
	// ErrConflict is returned when a compare-and-write loses to a concurrent
	// writer. The engine never retries; callers re-read and decide.
	ErrConflict = store.ErrVersionConflict
	// ErrInvalidHierarchy covers cycles, cross-team parents and missing parents.
	ErrInvalidHierarchy = errors.New("invalid task hierarchy")
	// ErrHasDependents is returned for non-cascade deletes of tasks that still
	// have children, assignments, time entries or comments.
	ErrHasDependents = errors.New("task has dependents")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalidf(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
