package engine_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/prevalent/codec"
	"github.com/INLOpen/prevalent/core"
	"github.com/INLOpen/prevalent/engine"
	"github.com/INLOpen/prevalent/journal"
	"github.com/INLOpen/prevalent/snapshot"
	"github.com/INLOpen/prevalent/sys"
)

func TestEngine_PartialTailTolerance(t *testing.T) {
	dir := t.TempDir()

	e, err := guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := engine.Mutate(e, addEntry{Name: "guest", Message: "committed"})
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	// Tear the last record, as a crash mid-append would.
	journalPath := filepath.Join(dir, core.JournalFileName)
	stat, err := os.Stat(journalPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(journalPath, stat.Size()-1))

	e, err = guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)

	// The torn fifth mutation is gone; the four durable ones survive.
	assert.Equal(t, 4, countEntries(t, e))

	_, err = engine.Mutate(e, addEntry{Name: "guest", Message: "after crash"})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 5, countEntries(t, e))
}

func TestEngine_MidJournalCorruptionFailsOpen(t *testing.T) {
	dir := t.TempDir()

	e, err := guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := engine.Mutate(e, addEntry{Name: "guest", Message: "soon damaged"})
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	// Damage the first record's payload. This shifts nothing but breaks its
	// checksum, so it must abort recovery rather than be skipped.
	journalPath := filepath.Join(dir, core.JournalFileName)
	data, err := os.ReadFile(journalPath)
	require.NoError(t, err)
	data[journal.EpochHeaderSize()+6] ^= 0xFF
	require.NoError(t, os.WriteFile(journalPath, data, 0644))

	_, err = guestBookBuilder(quietOptions()).Open(dir)
	require.Error(t, err)
	assert.True(t, core.IsCorruption(err))
	assert.ErrorIs(t, err, core.ErrChecksumMismatch)
}

func TestEngine_CorruptSnapshotFailsOpen(t *testing.T) {
	dir := t.TempDir()

	e, err := guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	_, err = engine.Mutate(e, addEntry{Name: "guest", Message: "snapshotted"})
	require.NoError(t, err)
	require.NoError(t, e.Compact())
	require.NoError(t, e.Close())

	snapPath := filepath.Join(dir, core.SnapshotFileName)
	data, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(snapPath, data, 0644))

	_, err = guestBookBuilder(quietOptions()).Open(dir)
	require.Error(t, err)
	assert.True(t, core.IsCorruption(err))
}

func TestEngine_ReplayUnregisteredMutationFailsOpen(t *testing.T) {
	dir := t.TempDir()

	e, err := guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	_, err = engine.Mutate(e, addEntry{Name: "guest", Message: "hi"})
	require.NoError(t, err)
	_, err = engine.Mutate(e, clearEntries{})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// A build that dropped the clearEntries registration cannot interpret
	// its own journal and must say so, not skip records.
	b := engine.NewBuilder(func() *guestBook { return &guestBook{} }).WithOptions(quietOptions())
	engine.Register[*guestBook, addEntry](b)

	_, err = b.Open(dir)
	require.Error(t, err)
	var uErr *core.UnregisteredMutationError
	require.ErrorAs(t, err, &uErr)
	assert.Equal(t, uint32(2), uErr.ID)
}

func TestEngine_InterruptedCompactionIsNotReplayedTwice(t *testing.T) {
	dir := t.TempDir()

	names := []string{"ada", "grace", "edsger"}
	e, err := guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	for _, name := range names {
		_, err := engine.Mutate(e, addEntry{Name: name, Message: "durable"})
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	// Reproduce a crash between a fold's snapshot rename and its journal
	// truncation: the snapshot already holds all three mutations while the
	// journal still carries their records.
	var state guestBook
	for _, name := range names {
		state.Entries = append(state.Entries, entry{Name: name, Message: "durable"})
	}
	payload, err := codec.NewCBOR().Encode(&state)
	require.NoError(t, err)
	store, err := snapshot.NewStore(snapshot.Options{Dir: dir, Compression: core.CompressionNone})
	require.NoError(t, err)
	require.NoError(t, store.Save(3, payload))

	e, err = guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)

	err = e.View(func(gb *guestBook) {
		require.Len(t, gb.Entries, 3)
		assert.Equal(t, "ada", gb.Entries[0].Name)
		assert.Equal(t, "edsger", gb.Entries[2].Name)
	})
	require.NoError(t, err)

	// Recovery finishes the fold: the folded records are gone from the
	// journal and the generation accounts for every mutation exactly once.
	stats := e.Stats()
	assert.Equal(t, uint64(3), stats.Generation)
	assert.Equal(t, uint64(0), stats.JournalRecords)

	_, err = engine.Mutate(e, addEntry{Name: "barbara", Message: "post-crash"})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 4, countEntries(t, e))
}

func TestEngine_SnapshotBehindJournalEpochFailsOpen(t *testing.T) {
	dir := t.TempDir()

	e, err := guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := engine.Mutate(e, addEntry{Name: "guest", Message: "hi"})
		require.NoError(t, err)
	}
	require.NoError(t, e.Compact())
	require.NoError(t, e.Close())

	// A snapshot older than the journal's epoch base means records the
	// journal no longer holds; the directory cannot be reconstructed.
	payload, err := codec.NewCBOR().Encode(&guestBook{})
	require.NoError(t, err)
	store, err := snapshot.NewStore(snapshot.Options{Dir: dir, Compression: core.CompressionNone})
	require.NoError(t, err)
	require.NoError(t, store.Save(1, payload))

	_, err = guestBookBuilder(quietOptions()).Open(dir)
	require.Error(t, err)
	assert.True(t, core.IsCorruption(err))
}

func TestEngine_AtomicSnapshotSwap(t *testing.T) {
	defer sys.Reset()
	dir := t.TempDir()

	e, err := guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := engine.Mutate(e, addEntry{Name: "guest", Message: "durable"})
		require.NoError(t, err)
	}
	require.NoError(t, e.Compact())

	_, err = engine.Mutate(e, addEntry{Name: "guest", Message: "post-fold"})
	require.NoError(t, err)

	// The next fold dies between writing the temp file and the rename. The
	// previous snapshot and the journal must still reconstruct everything.
	sys.Rename = func(oldpath, newpath string) error {
		return errors.New("simulated crash before rename")
	}
	require.Error(t, e.Compact())
	require.NoError(t, e.Close())
	sys.Reset()

	e, err = guestBookBuilder(quietOptions()).Open(dir)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 4, countEntries(t, e))
}
