// Package codec provides the default serialization for values and mutations.
package codec

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/INLOpen/prevalent/core"
)

// CBOR is the default codec. It uses canonical CBOR encoding so that
// encoding the same value always yields the same bytes, which journal replay
// and snapshot comparison depend on.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ core.Codec = (*CBOR)(nil)

// NewCBOR returns a codec using canonical encoding options.
func NewCBOR() *CBOR {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		// Options are static; EncMode cannot fail on them.
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) Encode(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) Decode(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
