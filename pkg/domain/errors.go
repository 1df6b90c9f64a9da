package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrChainStateMismatch indicates the caller sealed an entry against
	// stale chain state. Detected before anything is persisted.
	ErrChainStateMismatch = errors.New("chain state mismatch")

	// ErrConcurrentWriteConflict indicates an append lost its
	// compare-and-swap race after exhausting retries.
	ErrConcurrentWriteConflict = errors.New("concurrent write conflict")

	// ErrNotFound indicates the requested entry or tenant does not exist.
	ErrNotFound = errors.New("audit entry not found")

	// ErrExportFormatUnsupported indicates an unknown export format.
	ErrExportFormatUnsupported = errors.New("export format unsupported")
)

// InvalidEventError indicates a missing or malformed required field on
// an incoming event. Client error, never retried.
type InvalidEventError struct {
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: field %q %s", e.Field, e.Reason)
}

// NewInvalidEventError creates a new invalid event error.
func NewInvalidEventError(field, reason string) *InvalidEventError {
	return &InvalidEventError{Field: field, Reason: reason}
}

// InvalidFilterError indicates a malformed query filter, such as a date
// range whose start is after its end.
type InvalidFilterError struct {
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter: %s", e.Reason)
}

// NewInvalidFilterError creates a new invalid filter error.
func NewInvalidFilterError(reason string) *InvalidFilterError {
	return &InvalidFilterError{Reason: reason}
}

// IsClientError reports whether err should surface as a 400-equivalent
// rather than a server fault.
func IsClientError(err error) bool {
	var ie *InvalidEventError
	var fe *InvalidFilterError
	return errors.As(err, &ie) || errors.As(err, &fe) || errors.Is(err, ErrExportFormatUnsupported)
}
