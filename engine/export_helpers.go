package engine

import "github.com/INLOpen/prevalent/journal"

// TestingOnlyJournal exposes the engine's journal so tests can inject append
// failures. Not for production use.
func (e *Engine[T]) TestingOnlyJournal() *journal.Journal {
	return e.journal
}
