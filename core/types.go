package core

import "io"

// CompressionType identifies the compression algorithm applied to a snapshot
// payload. It is stored in the file header so load always knows how to
// decompress, regardless of the currently configured algorithm.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// Compressor defines the interface for compression algorithms used on
// snapshot payloads.
type Compressor interface {
	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)
	// Decompress returns a reader over the decompressed data.
	Decompress(data []byte) (io.ReadCloser, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// SyncMode defines how eagerly journal appends are forced to stable storage.
type SyncMode string

const (
	// SyncAlways syncs after every append. Highest durability: an
	// acknowledged mutation survives any crash.
	SyncAlways SyncMode = "always"
	// SyncDisabled never syncs on append; data reaches disk on Close, on
	// an explicit Sync, or whenever the OS flushes. A crash can lose the
	// buffered tail of the journal.
	SyncDisabled SyncMode = "disabled"
)

// Codec encodes and decodes values and mutation payloads. Implementations
// must be deterministic (identical input yields identical bytes) and
// self-delimiting when embedded in a length-framed record.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Mutation is a deterministic transformation of the application state T.
// T is typically a pointer type so Mutate can modify the value in place.
//
// Mutate must be a pure function of (state, mutation payload): no wall-clock
// time, no randomness, no external I/O. Anything else diverges on journal
// replay and silently corrupts the reconstructed state.
type Mutation[T any] interface {
	// MutationID uniquely identifies the mutation type within one data
	// directory. IDs are written into journal records and must never be
	// reused for a different type.
	MutationID() uint32
	// Mutate applies the change to state and returns the caller-visible
	// result. Results are discarded during replay.
	Mutate(state T) any
}
