package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for reconciliation anomalies.
var (
	// ErrMissingIdentifier means a raw identifier normalized to nothing.
	// The unit of work (message or row) is skipped; nothing else is affected.
	ErrMissingIdentifier = errors.New("missing identifier")
	// ErrUnparsableNumeric means a numeric field could not be parsed. It is
	// recovered locally by treating the value as absent.
	ErrUnparsableNumeric = errors.New("unparsable numeric")
	// ErrNotFound is returned by stores that have no record for a key.
	ErrNotFound = errors.New("vehicle not found")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Row     int // 1-based source row, 0 when not from a bulk import
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("validation: row %d: %s: %s (value=%q)", e.Row, e.Wrapped, e.Field, e.Value)
	}
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsMissingIdentifier reports whether err means the unit of work has no usable key.
func IsMissingIdentifier(err error) bool {
	return errors.Is(err, ErrMissingIdentifier)
}
