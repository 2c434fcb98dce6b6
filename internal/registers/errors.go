package registers

import "errors"

// Domain errors for the register store.
var (
	// ErrOutOfRange is returned when an address or count falls outside the bank.
	ErrOutOfRange = errors.New("registers: address out of range")

	// ErrStorage is returned when the durable backend fails. The in-memory
	// bank is unchanged when a write returns this error.
	ErrStorage = errors.New("registers: storage failure")

	// ErrCorrupt is returned by Open when persisted data is incomplete or
	// inconsistent.
	ErrCorrupt = errors.New("registers: corrupt register database")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registers: store closed")
)
