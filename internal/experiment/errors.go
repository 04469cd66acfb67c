package experiment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("experiment not found")
	ErrVariantNotFound    = errors.New("variant not found")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// ValidationError reports a bad field in a creation spec or patch.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("experiment validation error [%s]: %s", e.Field, e.Message)
}

// StoreError wraps an underlying store failure (timeout, unavailability).
// Surfaced to the caller; this core does not retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("experiment store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// preconditionf builds an ErrPreconditionFailed with detail.
func preconditionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}
