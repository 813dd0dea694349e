package engine

import (
	"fmt"

	"github.com/INLOpen/prevalent/core"
)

// maybeCompactLocked folds the journal when either configured trigger fires.
// Caller holds e.mu.
func (e *Engine[T]) maybeCompactLocked() error {
	count := e.journal.RecordCount()
	if count == 0 {
		return nil
	}
	byCount := e.opts.CompactionThreshold > 0 && count >= e.opts.CompactionThreshold
	bySize := e.opts.MaxJournalSize > 0 && e.journal.Size() >= e.opts.MaxJournalSize
	if !byCount && !bySize {
		return nil
	}
	e.logger.Info("compaction triggered",
		"journal_records", count, "journal_bytes", e.journal.Size(),
		"by_count", byCount, "by_size", bySize)
	return e.compactLocked()
}

// Compact folds the journal into a fresh snapshot immediately, regardless of
// the configured triggers. After it returns, the journal is empty and the
// snapshot alone reconstructs the current value.
func (e *Engine[T]) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return core.ErrEngineClosed
	}
	return e.compactLocked()
}

// compactLocked writes the current value as a snapshot, then truncates the
// journal. Ordering is the crash-safety argument: until the truncation, the
// old snapshot plus the full journal still reconstruct the value. A crash
// between the two steps leaves a snapshot whose generation is ahead of the
// journal's epoch base; recovery detects exactly that gap and skips the
// already-folded records instead of applying them twice.
//
// Caller holds e.mu.
func (e *Engine[T]) compactLocked() error {
	folded := e.journal.RecordCount()

	payload, err := e.codec.Encode(e.state)
	if err != nil {
		return fmt.Errorf("failed to encode state for snapshot: %w", err)
	}
	// The epoch base plus the epoch's record count is the total number of
	// mutations the new snapshot represents. e.generation is not used here:
	// after an interrupted fold it already equals the recovered snapshot's
	// generation, which sits inside the epoch, not at its start.
	generation := e.journal.BaseGeneration() + folded
	if err := e.snapshots.Save(generation, payload); err != nil {
		return err
	}
	// The snapshot is durable; the journal records it folded are now
	// redundant and safe to discard.
	if err := e.journal.Reset(generation); err != nil {
		return fmt.Errorf("snapshot saved but journal truncation failed: %w", err)
	}
	e.generation = generation
	e.compactions.Add(1)
	e.logger.Info("compaction complete", "generation", generation, "folded_records", folded)
	return nil
}
