// Package engine implements the prevalence core: it owns the live in-memory
// value and coordinates the journal, snapshot store and compaction policy
// behind one exclusive lock. Durability model: every mutation is logged to
// the journal before it is applied, and the journal is periodically folded
// into a full-state snapshot to bound replay time at the next open.
package engine

import (
	"encoding/binary"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/INLOpen/prevalent/codec"
	"github.com/INLOpen/prevalent/core"
	"github.com/INLOpen/prevalent/journal"
	"github.com/INLOpen/prevalent/snapshot"
)

// Options holds the tunables of an engine.
type Options struct {
	// CompactionThreshold folds the journal into a fresh snapshot once this
	// many records accumulated since the last fold. Zero disables the count
	// trigger.
	CompactionThreshold uint64
	// MaxJournalSize folds once the journal file exceeds this many bytes.
	// Zero disables the size trigger.
	MaxJournalSize int64
	// SyncMode controls whether every mutation is fsynced before it is
	// acknowledged.
	SyncMode core.SyncMode
	// Compression selects the snapshot payload compression.
	Compression core.CompressionType
	// CompactOnOpen folds immediately after recovery, so the next open
	// starts from a snapshot with an empty journal.
	CompactOnOpen bool
	// RetainSuperseded keeps replaced snapshots under generation-stamped
	// names instead of discarding them.
	RetainSuperseded bool
	Logger           *slog.Logger
}

// DefaultOptions returns the options used when none are given: fold every
// 1000 records or 10 MB of journal, sync every mutation, no compression.
func DefaultOptions() Options {
	return Options{
		CompactionThreshold: 1000,
		MaxJournalSize:      10 * 1024 * 1024,
		SyncMode:            core.SyncAlways,
		Compression:         core.CompressionNone,
	}
}

type applier[T any] func(payload []byte, state T) error

// Builder constructs an Engine. It carries the registry of mutation types
// used to decode journal records during replay.
type Builder[T any] struct {
	opts          Options
	codec         core.Codec
	initial       func() T
	mutationTypes map[uint32]applier[T]
}

// NewBuilder begins constructing an engine for state type T. T is typically
// a pointer type; initial is called to construct the state when the data
// directory holds no snapshot yet.
func NewBuilder[T any](initial func() T) *Builder[T] {
	return &Builder[T]{
		opts:          DefaultOptions(),
		codec:         codec.NewCBOR(),
		initial:       initial,
		mutationTypes: make(map[uint32]applier[T]),
	}
}

// WithOptions replaces the engine options.
func (b *Builder[T]) WithOptions(opts Options) *Builder[T] {
	b.opts = opts
	return b
}

// WithCodec replaces the default CBOR codec.
func (b *Builder[T]) WithCodec(c core.Codec) *Builder[T] {
	b.codec = c
	return b
}

// Register binds the mutation type M to its ID so journal records can be
// decoded during replay. Every mutation type an application ever journaled
// must be registered before Open. It panics on a duplicate ID, which is
// always a programming error.
func Register[T any, M core.Mutation[T]](b *Builder[T]) {
	var zero M
	id := zero.MutationID()
	if _, ok := b.mutationTypes[id]; ok {
		panic(fmt.Sprintf("mutation type already registered with ID %d", id))
	}
	b.mutationTypes[id] = func(payload []byte, state T) error {
		var m M
		if err := b.codec.Decode(payload, &m); err != nil {
			return fmt.Errorf("failed to decode mutation %d: %w", id, err)
		}
		m.Mutate(state)
		return nil
	}
}

// Engine owns the live in-memory value. All access is serialized on one
// exclusive lock: journal order must match in-memory application order
// exactly, since replay depends on it.
type Engine[T any] struct {
	mu sync.Mutex

	state         T
	opts          Options
	codec         core.Codec
	mutationTypes map[uint32]applier[T]

	journal   *journal.Journal
	snapshots *snapshot.Store

	// generation counts the journal records already folded into the
	// current snapshot; generation plus the journal record count is the
	// total number of mutations ever applied to this directory.
	generation uint64

	closed bool
	logger *slog.Logger

	mutationsLogged *expvar.Int
	bytesLogged     *expvar.Int
	compactions     *expvar.Int
}

// Open runs recovery against the data directory and returns a live handle:
// load the latest snapshot (or build the initial value), replay the journal
// in order, then accept mutations. Open fails loudly on any corruption
// other than a single torn trailing journal record.
func (b *Builder[T]) Open(dir string) (*Engine[T], error) {
	if b.initial == nil {
		return nil, errors.New("an initial value factory is required")
	}
	logger := b.opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	store, err := snapshot.NewStore(snapshot.Options{
		Dir:              dir,
		Compression:      b.opts.Compression,
		RetainSuperseded: b.opts.RetainSuperseded,
		Logger:           b.opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	state := b.initial()
	generation, payload, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		if err := b.codec.Decode(payload, &state); err != nil {
			return nil, &core.CorruptionError{
				Path: filepath.Join(dir, core.SnapshotFileName),
				Err:  fmt.Errorf("snapshot does not decode: %w", err),
			}
		}
	}

	e := &Engine[T]{
		state:           state,
		opts:            b.opts,
		codec:           b.codec,
		mutationTypes:   b.mutationTypes,
		snapshots:       store,
		generation:      generation,
		logger:          logger.With("component", "engine"),
		mutationsLogged: new(expvar.Int),
		bytesLogged:     new(expvar.Int),
		compactions:     new(expvar.Int),
	}

	journalPath := filepath.Join(dir, core.JournalFileName)
	j, err := journal.Open(journal.Options{
		Path:           journalPath,
		SyncMode:       b.opts.SyncMode,
		BaseGeneration: generation,
		Logger:         b.opts.Logger,
		BytesWritten:   e.bytesLogged,
		RecordsWritten: e.mutationsLogged,
	})
	if err != nil {
		return nil, err
	}
	e.journal = j

	base := j.BaseGeneration()
	if generation < base {
		j.Close()
		return nil, &core.CorruptionError{
			Path: journalPath,
			Err: fmt.Errorf("journal epoch base %d is ahead of snapshot generation %d",
				base, generation),
		}
	}
	// A crash between the snapshot rename and the journal truncation of a
	// fold leaves the snapshot ahead of the journal's epoch base. The first
	// generation-base records are already folded in and must not be applied
	// a second time.
	folded := generation - base
	var index uint64
	err = j.Replay(func(record []byte) error {
		index++
		if index <= folded {
			return nil
		}
		return e.applyRecord(record)
	})
	if err != nil {
		j.Close()
		return nil, err
	}
	if folded > j.RecordCount() {
		j.Close()
		return nil, &core.CorruptionError{
			Path: journalPath,
			Err: fmt.Errorf("snapshot generation %d claims %d folded records but journal epoch base %d holds only %d",
				generation, folded, base, j.RecordCount()),
		}
	}

	e.logger.Info("engine opened", "dir", dir,
		"generation", e.generation, "replayed_records", j.RecordCount()-folded)

	if folded > 0 {
		e.logger.Warn("completing compaction interrupted by a crash",
			"snapshot_generation", generation, "journal_base", base)
		if err := e.compactLocked(); err != nil {
			j.Close()
			return nil, fmt.Errorf("failed to complete interrupted compaction: %w", err)
		}
	}

	if b.opts.CompactOnOpen {
		if err := e.Compact(); err != nil {
			e.journal.Close()
			return nil, fmt.Errorf("compaction at open failed: %w", err)
		}
	}
	return e, nil
}

// applyRecord decodes and applies one journal record during replay. Results
// are discarded: replay reconstructs state, it does not answer callers.
func (e *Engine[T]) applyRecord(record []byte) error {
	if len(record) < 4 {
		return fmt.Errorf("record shorter than its mutation ID prefix")
	}
	id := binary.LittleEndian.Uint32(record[:4])
	apply, ok := e.mutationTypes[id]
	if !ok {
		return &core.UnregisteredMutationError{ID: id}
	}
	return apply(record[4:], e.state)
}

// View runs fn with read-only access to the value, under the same lock that
// serializes mutations. fn must not retain references into the state after
// it returns, and performs no I/O.
func (e *Engine[T]) View(fn func(state T)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return core.ErrEngineClosed
	}
	fn(e.state)
	return nil
}

// Generation returns the number of mutations folded into the current
// snapshot.
func (e *Engine[T]) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Close flushes the journal and releases file handles. It is idempotent and
// leaves all data on disk untouched.
func (e *Engine[T]) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.journal.Close(); err != nil {
		e.logger.Error("error closing journal", "error", err)
		return err
	}
	e.logger.Info("engine closed")
	return nil
}

// Stats is a point-in-time snapshot of the engine's counters.
type Stats struct {
	MutationsLogged    int64
	JournalBytesLogged int64
	Compactions        int64
	JournalRecords     uint64
	Generation         uint64
}

// Stats returns the engine's counters.
func (e *Engine[T]) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		MutationsLogged:    e.mutationsLogged.Value(),
		JournalBytesLogged: e.bytesLogged.Value(),
		Compactions:        e.compactions.Value(),
		JournalRecords:     e.journal.RecordCount(),
		Generation:         e.generation,
	}
}
