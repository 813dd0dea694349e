package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/prevalent/core"
	"github.com/INLOpen/prevalent/sys"
)

func newStore(t *testing.T, dir string, compression core.CompressionType) *Store {
	t.Helper()
	s, err := NewStore(Options{Dir: dir, Compression: compression})
	require.NoError(t, err)
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	payload := []byte("the complete serialized state of the application, " +
		"which compresses reasonably well well well well well well")

	for _, ct := range []core.CompressionType{
		core.CompressionNone,
		core.CompressionSnappy,
		core.CompressionLZ4,
		core.CompressionZSTD,
	} {
		t.Run(ct.String(), func(t *testing.T) {
			dir := t.TempDir()
			s := newStore(t, dir, ct)

			require.NoError(t, s.Save(7, payload))

			generation, loaded, ok, err := s.Load()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(7), generation)
			assert.Equal(t, payload, loaded)

			info, err := Peek(dir)
			require.NoError(t, err)
			require.NotNil(t, info)
			assert.Equal(t, uint64(7), info.Generation)
			assert.Equal(t, ct, info.Compression)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newStore(t, t.TempDir(), core.CompressionNone)

	_, _, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SaveOverwrites(t *testing.T) {
	s := newStore(t, t.TempDir(), core.CompressionNone)

	require.NoError(t, s.Save(1, []byte("old state")))
	require.NoError(t, s.Save(5, []byte("new state")))

	generation, payload, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5), generation)
	assert.Equal(t, []byte("new state"), payload)
}

func TestStore_InterruptedSaveLeavesOldSnapshot(t *testing.T) {
	defer sys.Reset()

	dir := t.TempDir()
	s := newStore(t, dir, core.CompressionNone)
	require.NoError(t, s.Save(1, []byte("durable state")))

	// Simulate a crash after the temp file was written but before the
	// rename: the rename never happens and the temp file stays behind.
	sys.Rename = func(oldpath, newpath string) error {
		return errors.New("simulated crash before rename")
	}
	err := s.Save(2, []byte("lost state"))
	require.Error(t, err)

	sys.Reset()
	_, err = os.Stat(filepath.Join(dir, core.FormatTempFilename(core.SnapshotFileName, "tmp")))
	require.NoError(t, err, "temp file should have been left behind")

	// Reopening the store must clean up the temp file and still serve the
	// previous snapshot.
	s = newStore(t, dir, core.CompressionNone)
	generation, payload, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), generation)
	assert.Equal(t, []byte("durable state"), payload)

	_, err = os.Stat(filepath.Join(dir, core.FormatTempFilename(core.SnapshotFileName, "tmp")))
	assert.True(t, os.IsNotExist(err), "stale temp file should be removed on open")
}

func TestStore_CorruptedSnapshotIsFatal(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t, dir, core.CompressionNone)
	require.NoError(t, s.Save(3, []byte("about to be damaged")))

	path := filepath.Join(dir, core.SnapshotFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, _, ok, err := s.Load()
	require.Error(t, err)
	assert.True(t, ok, "a corrupt snapshot exists, it is not a fresh directory")
	assert.True(t, core.IsCorruption(err))
}

func TestStore_WrongMagic(t *testing.T) {
	dir := t.TempDir()
	junk := make([]byte, 64)
	require.NoError(t, os.WriteFile(filepath.Join(dir, core.SnapshotFileName), junk, 0644))

	s := newStore(t, dir, core.CompressionNone)
	_, _, _, err := s.Load()
	require.Error(t, err)
	assert.True(t, core.IsCorruption(err))

	_, err = Peek(dir)
	require.Error(t, err)
	assert.True(t, core.IsCorruption(err))
}

func TestStore_RetainSuperseded(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(Options{Dir: dir, Compression: core.CompressionNone, RetainSuperseded: true})
	require.NoError(t, err)

	require.NoError(t, s.Save(10, []byte("first")))
	require.NoError(t, s.Save(20, []byte("second")))

	// The generation-10 snapshot must have been kept under its stamped
	// name while generation 20 became current.
	retained := filepath.Join(dir, core.FormatRetainedSnapshotName(10))
	_, err = os.Stat(retained)
	require.NoError(t, err)

	info, err := Peek(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), info.Generation)
}

func TestPeek_MissingSnapshot(t *testing.T) {
	info, err := Peek(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, info)
}
