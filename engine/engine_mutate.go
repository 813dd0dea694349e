package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/prevalent/core"
)

// MutateError reports a mutation that was NOT committed: neither the journal
// nor the in-memory value carries it, and the engine remains usable.
type MutateError struct {
	MutationID uint32
	Err        error
}

func (e *MutateError) Error() string {
	return fmt.Sprintf("mutation %d was not committed: %s", e.MutationID, e.Err)
}

func (e *MutateError) Unwrap() error {
	return e.Err
}

// Mutate journals the mutation, applies it to the in-memory value, and
// returns whatever the mutation's Mutate returned. The journal write comes
// first: a mutation that cannot be made durable is rejected outright and the
// in-memory value is left untouched.
//
// By the time Mutate returns nil, the mutation has reached the journal
// (fsynced under SyncAlways) and is visible to View.
func Mutate[T any, M core.Mutation[T]](e *Engine[T], m M) (any, error) {
	id := m.MutationID()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, core.ErrEngineClosed
	}
	// An unregistered mutation would journal fine and then break the next
	// replay. Refuse it here, while the caller can still fix the builder.
	if _, ok := e.mutationTypes[id]; !ok {
		return nil, &MutateError{MutationID: id, Err: &core.UnregisteredMutationError{ID: id}}
	}

	payload, err := e.codec.Encode(m)
	if err != nil {
		return nil, &MutateError{MutationID: id, Err: fmt.Errorf("failed to encode mutation: %w", err)}
	}
	record := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(record, id)
	copy(record[4:], payload)

	if _, err := e.journal.Append(record); err != nil {
		return nil, &MutateError{MutationID: id, Err: err}
	}

	// Durable now. Replay will reapply this record verbatim, so the live
	// application must happen exactly once, here, in journal order.
	result := m.Mutate(e.state)

	if err := e.maybeCompactLocked(); err != nil {
		// The mutation itself committed; surface the compaction failure
		// without withholding the result.
		return result, fmt.Errorf("mutation committed, but compaction failed: %w", err)
	}
	return result, nil
}
