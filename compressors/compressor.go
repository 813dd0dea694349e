// Package compressors provides the compression algorithms available for
// snapshot payloads.
package compressors

import (
	"fmt"

	"github.com/INLOpen/prevalent/core"
)

// Get returns a Compressor instance for the given CompressionType. It is
// used on load, where the type comes from the file header rather than from
// configuration.
func Get(compressionType core.CompressionType) (core.Compressor, error) {
	switch compressionType {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return &SnappyCompressor{}, nil
	case core.CompressionLZ4:
		return &LZ4Compressor{}, nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", compressionType)
	}
}
