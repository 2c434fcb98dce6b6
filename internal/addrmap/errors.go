package addrmap

import (
	"errors"
	"fmt"
)

// Domain errors for the address map.
var (
	// ErrInvalidIdentifier is returned when an entity id is outside its range.
	ErrInvalidIdentifier = errors.New("addrmap: invalid identifier")

	// ErrLayout is returned by Validate when the address table is inconsistent.
	ErrLayout = errors.New("addrmap: invalid address layout")
)

// Identifier names reported in IdentifierError.Field.
const (
	IDBase         = "base"
	IDZone         = "zone"
	IDGroup        = "group"
	IDDehumidifier = "dehumidifier"
	IDPump         = "pump"
)

// IdentifierError names the rejected identifier and its accepted range.
type IdentifierError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("%s: %s %d not in [%d, %d]", ErrInvalidIdentifier, e.Field, e.Value, e.Min, e.Max)
}

// Unwrap lets errors.Is match ErrInvalidIdentifier.
func (e *IdentifierError) Unwrap() error {
	return ErrInvalidIdentifier
}

func checkID(field string, value, lo, hi int) error {
	if value < lo || value > hi {
		return &IdentifierError{Field: field, Value: value, Min: lo, Max: hi}
	}
	return nil
}
