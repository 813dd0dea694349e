package compressors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/prevalent/core"
)

func TestCompressors_RoundTrip(t *testing.T) {
	payload := []byte("prevalence engines fold journals into snapshots, " +
		"prevalence engines fold journals into snapshots, over and over")

	for _, ct := range []core.CompressionType{
		core.CompressionNone,
		core.CompressionSnappy,
		core.CompressionLZ4,
		core.CompressionZSTD,
	} {
		t.Run(ct.String(), func(t *testing.T) {
			c, err := Get(ct)
			require.NoError(t, err)
			assert.Equal(t, ct, c.Type())

			compressed, err := c.Compress(payload)
			require.NoError(t, err)

			rc, err := c.Decompress(compressed)
			require.NoError(t, err)
			defer rc.Close()

			decompressed, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, payload, decompressed)
		})
	}
}

func TestCompressors_EmptyInput(t *testing.T) {
	for _, ct := range []core.CompressionType{
		core.CompressionNone,
		core.CompressionSnappy,
		core.CompressionLZ4,
		core.CompressionZSTD,
	} {
		t.Run(ct.String(), func(t *testing.T) {
			c, err := Get(ct)
			require.NoError(t, err)

			compressed, err := c.Compress(nil)
			require.NoError(t, err)

			rc, err := c.Decompress(compressed)
			require.NoError(t, err)
			defer rc.Close()

			decompressed, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Empty(t, decompressed)
		})
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get(core.CompressionType(250))
	assert.Error(t, err)
}

func TestSnappy_DecompressGarbage(t *testing.T) {
	c := &SnappyCompressor{}
	_, err := c.Decompress([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}
