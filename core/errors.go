package core

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch indicates a record or snapshot whose stored CRC32
	// does not match its payload.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrEngineClosed is returned by operations on a closed engine handle.
	ErrEngineClosed = errors.New("engine is closed")
	// ErrJournalClosed is returned by operations on a closed journal.
	ErrJournalClosed = errors.New("journal is closed")
	// ErrJournalBroken is returned once a failed append could not be
	// repaired; the engine must be reopened before further mutations.
	ErrJournalBroken = errors.New("journal is broken after an unrepaired append failure")
)

// CorruptionError reports fatal corruption in a persistent file. Recovery
// aborts rather than guess; the file is left untouched for inspection.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted file %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IsCorruption checks if an error (or any error in its chain) is a
// CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// UnregisteredMutationError is returned when a mutation ID has no registered
// type: at Mutate time to keep the journal replayable, and at open when a
// journal record references a type the current build does not know.
type UnregisteredMutationError struct {
	ID uint32
}

func (e *UnregisteredMutationError) Error() string {
	return fmt.Sprintf("no mutation type registered with ID %d", e.ID)
}
