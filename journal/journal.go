// Package journal implements the append-only mutation log. The file starts
// with a core.FileHeader and the epoch base generation (uint64 LE, the
// number of mutations already folded into a snapshot when this epoch
// began), then continues with framed records:
//
//	[length uint32 LE] [payload] [crc32 uint32 LE]
//
// Records are strictly ordered; a record's index is its position in the
// file. Every record is fully written except possibly the last, which may be
// a torn write from an unclean shutdown and is dropped during replay.
//
// The base generation lets recovery tell folded records apart: a snapshot
// whose generation is ahead of the journal's base marks records that were
// already folded before a crash interrupted the journal truncation.
package journal

import (
	"bufio"
	"encoding/binary"
	"expvar"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/INLOpen/prevalent/core"
	"github.com/INLOpen/prevalent/sys"
)

const (
	recordOverhead     = 8 // 4-byte length prefix + 4-byte CRC32
	baseGenerationSize = 8
)

// EpochHeaderSize is the byte offset of the first record: the file header
// followed by the epoch base generation.
func EpochHeaderSize() int64 {
	return core.HeaderSize() + baseGenerationSize
}

// Options holds configuration for the journal.
type Options struct {
	Path     string
	SyncMode core.SyncMode
	// ReadOnly opens the journal for replay only: Append is rejected and a
	// torn trailing record is skipped but not truncated away. Used by
	// inspection tooling that must never modify a data directory.
	ReadOnly bool
	// BaseGeneration seeds the epoch base when the file is created. An
	// existing file keeps its persisted base.
	BaseGeneration uint64
	Logger         *slog.Logger

	BytesWritten   *expvar.Int
	RecordsWritten *expvar.Int
}

// Journal is a single-file, append-only, length-framed mutation log.
type Journal struct {
	mu   sync.Mutex
	opts Options

	file   sys.FileHandle
	writer *bufio.Writer

	size     int64  // committed byte length, header included
	records  uint64 // committed record count
	base     uint64 // epoch base generation, persisted after the header
	replayed bool
	broken   bool

	logger *slog.Logger

	testingOnlyInjectAppendError error
}

// Open creates or opens the journal file and verifies its header. Replay
// must be called before the first Append so the write position is known to
// sit on a record boundary.
func Open(opts Options) (*Journal, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "journal")

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	file, err := sys.OpenFile(opts.Path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", opts.Path, err)
	}

	j := &Journal{
		opts:   opts,
		file:   file,
		logger: logger,
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat journal %s: %w", opts.Path, err)
	}

	if stat.Size() == 0 {
		if opts.ReadOnly {
			// A crash can leave an empty file before the header write. There
			// is nothing to inspect in it.
			j.size = 0
			return j, nil
		}
		header := core.NewFileHeader(core.JournalMagicNumber, core.CompressionNone)
		if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write journal header to %s: %w", opts.Path, err)
		}
		if err := binary.Write(file, binary.LittleEndian, opts.BaseGeneration); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write journal base generation to %s: %w", opts.Path, err)
		}
		j.size = EpochHeaderSize()
		j.base = opts.BaseGeneration
		return j, nil
	}

	var header core.FileHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, &core.CorruptionError{Path: opts.Path, Err: fmt.Errorf("short or unreadable header: %w", err)}
	}
	if header.Magic != core.JournalMagicNumber {
		file.Close()
		return nil, &core.CorruptionError{Path: opts.Path, Err: fmt.Errorf("invalid magic number: got %#x, want %#x", header.Magic, core.JournalMagicNumber)}
	}
	if header.Version != core.FormatVersion {
		file.Close()
		return nil, &core.CorruptionError{Path: opts.Path, Err: fmt.Errorf("unsupported format version %d", header.Version)}
	}
	if err := binary.Read(file, binary.LittleEndian, &j.base); err != nil {
		file.Close()
		return nil, &core.CorruptionError{Path: opts.Path, Err: fmt.Errorf("short or unreadable base generation: %w", err)}
	}

	j.size = EpochHeaderSize()
	return j, nil
}

// Replay reads every committed record from the start of the file, in order,
// and hands each payload to apply. A torn trailing record, the signature of
// a crash mid-append, is dropped silently and truncated away so the next
// Append lands on a clean boundary. A checksum mismatch or a replay failure
// on any record is fatal: committed mutations are never guessed away.
func (j *Journal) Replay(apply func(payload []byte) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return core.ErrJournalClosed
	}
	if j.replayed {
		return fmt.Errorf("journal %s was already replayed", j.opts.Path)
	}
	if j.opts.ReadOnly && j.size == 0 {
		// Empty file left before the header write; nothing to replay.
		j.replayed = true
		return nil
	}

	if _, err := j.file.Seek(EpochHeaderSize(), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to first journal record: %w", err)
	}

	reader := bufio.NewReader(j.file)
	valid := EpochHeaderSize()
	var records uint64
	torn := false

	for {
		var length uint32
		err := binary.Read(reader, binary.LittleEndian, &length)
		if err == io.EOF {
			break // clean end of journal
		}
		if err == io.ErrUnexpectedEOF {
			torn = true
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read length of record %d: %w", records, err)
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				torn = true
				break
			}
			return fmt.Errorf("failed to read payload of record %d: %w", records, err)
		}

		var sum uint32
		if err := binary.Read(reader, binary.LittleEndian, &sum); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				torn = true
				break
			}
			return fmt.Errorf("failed to read checksum of record %d: %w", records, err)
		}
		if crc32.ChecksumIEEE(payload) != sum {
			return &core.CorruptionError{
				Path: j.opts.Path,
				Err:  fmt.Errorf("record %d: %w", records, core.ErrChecksumMismatch),
			}
		}

		if err := apply(payload); err != nil {
			return fmt.Errorf("replay of record %d failed: %w", records, err)
		}
		valid += int64(length) + recordOverhead
		records++
	}

	if torn {
		j.logger.Warn("dropping torn trailing record from unclean shutdown",
			"path", j.opts.Path, "committed_records", records, "valid_bytes", valid)
		if !j.opts.ReadOnly {
			if err := j.file.Truncate(valid); err != nil {
				return fmt.Errorf("failed to truncate torn journal tail: %w", err)
			}
		}
	}

	if _, err := j.file.Seek(valid, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to journal append position: %w", err)
	}
	j.size = valid
	j.records = records
	if !j.opts.ReadOnly {
		j.writer = bufio.NewWriter(j.file)
	}
	j.replayed = true
	return nil
}

// Append durably buffers one framed record and returns its ordinal position
// within the current journal epoch. With SyncAlways the record is forced to
// stable storage before Append returns; a failed append never leaves a
// half-record behind unless the repair itself fails, in which case the
// journal is marked broken.
func (j *Journal) Append(payload []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return 0, core.ErrJournalClosed
	}
	if j.broken {
		return 0, core.ErrJournalBroken
	}
	if j.opts.ReadOnly {
		return 0, fmt.Errorf("journal %s is opened read-only", j.opts.Path)
	}
	if !j.replayed {
		return 0, fmt.Errorf("journal %s must be replayed before appending", j.opts.Path)
	}
	if j.testingOnlyInjectAppendError != nil {
		return 0, j.testingOnlyInjectAppendError
	}

	if err := j.writeRecordLocked(payload); err != nil {
		j.repairLocked(err)
		return 0, err
	}
	if j.opts.SyncMode == core.SyncAlways {
		if err := j.syncLocked(); err != nil {
			j.repairLocked(err)
			return 0, err
		}
	}

	pos := j.records
	j.records++
	j.size += int64(len(payload)) + recordOverhead
	if j.opts.BytesWritten != nil {
		j.opts.BytesWritten.Add(int64(len(payload)) + recordOverhead)
	}
	if j.opts.RecordsWritten != nil {
		j.opts.RecordsWritten.Add(1)
	}
	return pos, nil
}

func (j *Journal) writeRecordLocked(payload []byte) error {
	if err := binary.Write(j.writer, binary.LittleEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := j.writer.Write(payload); err != nil {
		return fmt.Errorf("failed to write record payload: %w", err)
	}
	if err := binary.Write(j.writer, binary.LittleEndian, crc32.ChecksumIEEE(payload)); err != nil {
		return fmt.Errorf("failed to write record checksum: %w", err)
	}
	return nil
}

// repairLocked puts the file back on the last committed record boundary
// after a failed write. If the repair itself fails, the journal is marked
// broken and every later Append is rejected until the engine is reopened.
func (j *Journal) repairLocked(cause error) {
	j.writer.Reset(j.file)
	// Truncate only ever shrinks here. If committed records were still in
	// the write buffer the file is shorter than the committed size, and
	// truncating would pad it with zeroes; that journal cannot be repaired.
	if stat, err := j.file.Stat(); err == nil && stat.Size() >= j.size {
		if err := j.file.Truncate(j.size); err == nil {
			if _, err = j.file.Seek(j.size, io.SeekStart); err == nil {
				j.logger.Warn("journal append failed, truncated back to last record boundary",
					"path", j.opts.Path, "error", cause)
				return
			}
		}
	}
	j.broken = true
	j.logger.Error("journal append failed and could not be repaired, journal marked broken",
		"path", j.opts.Path, "error", cause)
}

// Sync forces previously appended records to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return core.ErrJournalClosed
	}
	if j.broken {
		return core.ErrJournalBroken
	}
	if err := j.syncLocked(); err != nil {
		j.repairLocked(err)
		return err
	}
	return nil
}

func (j *Journal) syncLocked() error {
	if j.writer != nil {
		if err := j.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush journal buffer: %w", err)
		}
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal file: %w", err)
	}
	return nil
}

// Reset discards every record and starts a new epoch whose base generation
// is base. The caller must have made the discarded records durable elsewhere
// first; compaction snapshots the state before calling Reset, never the
// other way around.
func (j *Journal) Reset(base uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return core.ErrJournalClosed
	}
	if j.broken {
		return core.ErrJournalBroken
	}
	if j.opts.ReadOnly {
		return fmt.Errorf("journal %s is opened read-only", j.opts.Path)
	}
	if !j.replayed {
		return fmt.Errorf("journal %s must be replayed before resetting", j.opts.Path)
	}

	// Buffered bytes belong to the epoch being discarded.
	j.writer.Reset(j.file)

	epochHeader := EpochHeaderSize()
	if err := j.file.Truncate(epochHeader); err != nil {
		return fmt.Errorf("failed to truncate journal for new epoch: %w", err)
	}
	if _, err := j.file.Seek(core.HeaderSize(), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek after journal truncation: %w", err)
	}
	if err := binary.Write(j.file, binary.LittleEndian, base); err != nil {
		return fmt.Errorf("failed to write journal base generation: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync truncated journal: %w", err)
	}

	discarded := j.records
	j.size = epochHeader
	j.records = 0
	j.base = base
	j.logger.Info("journal reset for new epoch", "path", j.opts.Path,
		"base_generation", base, "discarded_records", discarded)
	return nil
}

// Close flushes, syncs and releases the file handle. It is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil // already closed
	}

	var syncErr error
	if !j.opts.ReadOnly && !j.broken && j.replayed {
		syncErr = j.syncLocked()
	}
	closeErr := j.file.Close()
	j.file = nil

	if syncErr != nil {
		j.logger.Error("error during journal close", "error", syncErr)
		return syncErr
	}
	return closeErr
}

// Size returns the committed byte length of the journal, header included.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// RecordCount returns the number of committed records in the current epoch.
func (j *Journal) RecordCount() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records
}

// BaseGeneration returns the persisted epoch base generation: the number of
// mutations already folded into a snapshot when this epoch began.
func (j *Journal) BaseGeneration() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.base
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.opts.Path
}

// SetTestingOnlyInjectAppendError makes every subsequent Append fail with
// err before touching the file. Passing nil clears the injection.
func (j *Journal) SetTestingOnlyInjectAppendError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.testingOnlyInjectAppendError = err
}
