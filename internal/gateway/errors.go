package gateway

import (
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a write request is missing a field or
// carries a value of the wrong type or range.
var ErrInvalidPayload = errors.New("gateway: invalid payload")

// PayloadError names the rejected field and the client-facing reason.
type PayloadError struct {
	Field  string
	Reason string

	// cause is the underlying error, e.g. a DPT 9.001 range error.
	cause error
}

func (e *PayloadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidPayload, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidPayload, e.Field, e.Reason)
}

// Unwrap matches ErrInvalidPayload and, when present, the cause.
func (e *PayloadError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrInvalidPayload, e.cause}
	}
	return []error{ErrInvalidPayload}
}

func invalid(field, reason string) error {
	return &PayloadError{Field: field, Reason: reason}
}
