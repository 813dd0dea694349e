package core

import (
	"encoding/binary"
	"time"
)

// FileHeader is the standard fixed-size header at the start of every
// persistent file written by the engine. All fields are encoded
// little-endian.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64 // UnixNano timestamp
	CompressorType CompressionType
}

// NewFileHeader creates a header for a new file with the current time.
func NewFileHeader(magic uint32, compressorType CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().UnixNano(),
		CompressorType: compressorType,
	}
}

// HeaderSize is the encoded size of a FileHeader in bytes.
func HeaderSize() int64 {
	return int64(binary.Size(FileHeader{}))
}
