package codec

import (
    "reflect"

    cbor "github.com/fxamacker/cbor/v2"
)

// maxPayloadDepth bounds nesting in decoded payload blobs.
const maxPayloadDepth = 32

type cborCodec struct {
    enc cbor.EncMode
    dec cbor.DecMode
}

// CBOR returns a codec using core deterministic encoding, so equal payloads
// produce equal blobs. Nested maps decode as map[string]any to match what the
// JSON codec yields for the same payload.
func CBOR() (Codec, error) {
    em, err := cbor.CoreDetEncOptions().EncMode()
    if err != nil { return nil, err }
    dm, err := cbor.DecOptions{
        DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
        MaxNestedLevels: maxPayloadDepth,
    }.DecMode()
    if err != nil { return nil, err }
    return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) ContentType() string                { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
