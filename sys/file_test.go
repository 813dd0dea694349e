package sys

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHandlers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe")

	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	stat, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(4), stat.Size())
	require.NoError(t, f.Close())

	renamed := filepath.Join(dir, "probe2")
	require.NoError(t, Rename(path, renamed))
	require.NoError(t, Remove(renamed))
	_, err = os.Stat(renamed)
	assert.True(t, os.IsNotExist(err))
}

func TestReset(t *testing.T) {
	boom := errors.New("boom")
	Create = func(name string) (FileHandle, error) { return nil, boom }
	Reset()

	dir := t.TempDir()
	f, err := Create(filepath.Join(dir, "after-reset"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
