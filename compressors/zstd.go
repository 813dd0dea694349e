package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/INLOpen/prevalent/core"
)

// ZstdCompressor implements the Compressor interface using zstd. A single
// encoder/decoder pair is reused across calls via the stateless
// EncodeAll/DecodeAll API.
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

type zstdReadCloser struct {
	*bytes.Reader
}

func (zrc *zstdReadCloser) Close() error {
	return nil
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	// With default options and a nil writer/reader these constructors
	// cannot fail.
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(512*1024*1024))
	if err != nil {
		panic(err)
	}
	return &ZstdCompressor{enc: enc, dec: dec}
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	decompressed, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	return &zstdReadCloser{Reader: bytes.NewReader(decompressed)}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
