// Package snapshot persists full-state snapshots using the
// write-to-temporary-then-rename protocol: a reader can never observe a
// half-written snapshot, and an interrupted save leaves the previous
// snapshot intact.
//
// Layout: core.FileHeader, generation (uint64 LE), payload CRC32
// (uint32 LE), then the compressed payload to end of file.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/INLOpen/prevalent/compressors"
	"github.com/INLOpen/prevalent/core"
	"github.com/INLOpen/prevalent/sys"
)

// Options holds configuration for the snapshot store.
type Options struct {
	Dir         string
	Compression core.CompressionType
	// RetainSuperseded hardlinks the replaced snapshot to
	// SNAPSHOT.<generation> instead of letting the rename destroy it.
	RetainSuperseded bool
	Logger           *slog.Logger
}

// Store manages the current snapshot file of one data directory.
type Store struct {
	dir        string
	compressor core.Compressor
	retain     bool
	logger     *slog.Logger
}

// NewStore prepares a snapshot store for the given directory. A stale
// temporary file left by an interrupted save is removed here; the current
// snapshot, if any, stays authoritative.
func NewStore(opts Options) (*Store, error) {
	compressor, err := compressors.Get(opts.Compression)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		dir:        opts.Dir,
		compressor: compressor,
		retain:     opts.RetainSuperseded,
		logger:     opts.Logger.With("component", "snapshot"),
	}

	tmp := s.tempPath()
	if err := sys.Remove(tmp); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale temp snapshot %s: %w", tmp, err)
		}
	} else {
		s.logger.Warn("removed stale temp snapshot left by an interrupted save", "path", tmp)
	}
	return s, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, core.SnapshotFileName)
}

func (s *Store) tempPath() string {
	return filepath.Join(s.dir, core.FormatTempFilename(core.SnapshotFileName, "tmp"))
}

// Save atomically replaces the current snapshot with the given encoded
// state. The temporary file is fsynced and closed before the rename, so at
// no observable instant does the directory hold a half-written snapshot.
func (s *Store) Save(generation uint64, payload []byte) error {
	compressed, err := s.compressor.Compress(payload)
	if err != nil {
		return fmt.Errorf("failed to compress snapshot payload: %w", err)
	}

	tmpPath := s.tempPath()
	file, err := sys.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}

	header := core.NewFileHeader(core.SnapshotMagicNumber, s.compressor.Type())
	if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, generation); err != nil {
		file.Close()
		return fmt.Errorf("failed to write snapshot generation: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, crc32.ChecksumIEEE(compressed)); err != nil {
		file.Close()
		return fmt.Errorf("failed to write snapshot checksum: %w", err)
	}
	if _, err := file.Write(compressed); err != nil {
		file.Close()
		return fmt.Errorf("failed to write snapshot payload: %w", err)
	}

	// Fsync before rename: the rename must never expose an incomplete file.
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp snapshot file: %w", err)
	}
	// Close before rename for Windows compatibility.
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot file before rename: %w", err)
	}

	if s.retain {
		s.retainCurrent()
	}

	if err := sys.Rename(tmpPath, s.path()); err != nil {
		return fmt.Errorf("failed to rename temp snapshot over current: %w", err)
	}
	s.logger.Info("snapshot saved", "generation", generation,
		"payload_bytes", len(payload), "compressed_bytes", len(compressed))
	return nil
}

// retainCurrent hardlinks the snapshot that is about to be replaced to its
// generation-stamped name. Retention is best effort: the new snapshot plus
// the journal still reconstruct the value, so failure is logged, not fatal.
func (s *Store) retainCurrent() {
	info, err := Peek(s.dir)
	if err != nil || info == nil {
		if err != nil {
			s.logger.Warn("could not read superseded snapshot for retention", "error", err)
		}
		return
	}
	name := filepath.Join(s.dir, core.FormatRetainedSnapshotName(info.Generation))
	if err := sys.Link(s.path(), name); err != nil && !os.IsExist(err) {
		s.logger.Warn("failed to retain superseded snapshot", "path", name, "error", err)
	}
}

// Load returns the current snapshot payload and its generation. ok is false
// on a fresh directory. A snapshot that exists but cannot be read back is
// fatal corruption: saves are atomic, so a half-written snapshot is never
// observable and a bad one means real damage.
func (s *Store) Load() (generation uint64, payload []byte, ok bool, err error) {
	path := s.path()
	file, err := sys.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer file.Close()

	var header core.FileHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: fmt.Errorf("short or unreadable header: %w", err)}
	}
	if header.Magic != core.SnapshotMagicNumber {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: fmt.Errorf("invalid magic number: got %#x, want %#x", header.Magic, core.SnapshotMagicNumber)}
	}
	if header.Version != core.FormatVersion {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: fmt.Errorf("unsupported format version %d", header.Version)}
	}
	if err := binary.Read(file, binary.LittleEndian, &generation); err != nil {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: fmt.Errorf("unreadable generation: %w", err)}
	}
	var sum uint32
	if err := binary.Read(file, binary.LittleEndian, &sum); err != nil {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: fmt.Errorf("unreadable checksum: %w", err)}
	}

	compressed, err := io.ReadAll(file)
	if err != nil {
		return 0, nil, true, fmt.Errorf("failed to read snapshot payload: %w", err)
	}
	if crc32.ChecksumIEEE(compressed) != sum {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: core.ErrChecksumMismatch}
	}

	compressor, err := compressors.Get(header.CompressorType)
	if err != nil {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: err}
	}
	rc, err := compressor.Decompress(compressed)
	if err != nil {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: err}
	}
	defer rc.Close()

	payload, err = io.ReadAll(rc)
	if err != nil {
		return 0, nil, true, &core.CorruptionError{Path: path, Err: err}
	}
	return generation, payload, true, nil
}

// Info describes a snapshot file without loading its payload.
type Info struct {
	Generation  uint64
	Compression core.CompressionType
	Size        int64
	CreatedAt   int64
}

// Peek reads a snapshot's header and generation only. It returns nil with no
// error when the directory has no snapshot yet.
func Peek(dir string) (*Info, error) {
	path := filepath.Join(dir, core.SnapshotFileName)
	file, err := sys.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer file.Close()

	var header core.FileHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		return nil, &core.CorruptionError{Path: path, Err: fmt.Errorf("short or unreadable header: %w", err)}
	}
	if header.Magic != core.SnapshotMagicNumber {
		return nil, &core.CorruptionError{Path: path, Err: fmt.Errorf("invalid magic number: got %#x, want %#x", header.Magic, core.SnapshotMagicNumber)}
	}
	var generation uint64
	if err := binary.Read(file, binary.LittleEndian, &generation); err != nil {
		return nil, &core.CorruptionError{Path: path, Err: fmt.Errorf("unreadable generation: %w", err)}
	}
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return &Info{
		Generation:  generation,
		Compression: header.CompressorType,
		Size:        stat.Size(),
		CreatedAt:   header.CreatedAt,
	}, nil
}
