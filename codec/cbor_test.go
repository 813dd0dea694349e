package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Tags  map[string]string
	Count int
}

func TestCBOR_RoundTrip(t *testing.T) {
	c := NewCBOR()

	in := sample{
		Name:  "prevalent",
		Tags:  map[string]string{"b": "2", "a": "1", "c": "3"},
		Count: 42,
	}

	data, err := c.Encode(in)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var out sample
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, in, out)
}

func TestCBOR_Deterministic(t *testing.T) {
	c := NewCBOR()

	// Maps are the usual source of nondeterminism; canonical encoding must
	// order keys the same way on every run.
	in := map[string]int{"zz": 1, "aa": 2, "mm": 3, "bb": 4}

	first, err := c.Encode(in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.Encode(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCBOR_DecodeError(t *testing.T) {
	c := NewCBOR()

	var out sample
	err := c.Decode([]byte{0xff, 0x00, 0x13}, &out)
	assert.Error(t, err)
}
