package protocol

import (
    "fmt"
    "strings"

    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/protocol/codec"
)

// Format is a compact on-wire indicator of payload encoding.
// It is carried as the first byte of a payload blob.
type Format uint8

const (
    FormatUnknown Format = iota
    FormatJSON
    FormatCBOR
    FormatProto
)

func (f Format) String() string {
    switch f {
    case FormatJSON:
        return ContentJSON
    case FormatCBOR:
        return ContentCBOR
    case FormatProto:
        return ContentProto
    default:
        return ContentUnknown
    }
}

// ParseFormat accepts json, cbor or proto (or their content types).
func ParseFormat(s string) (Format, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "json", ContentJSON:
        return FormatJSON, nil
    case "cbor", ContentCBOR:
        return FormatCBOR, nil
    case "proto", "protobuf", ContentProto:
        return FormatProto, nil
    default:
        return FormatUnknown, fmt.Errorf("unknown payload format: %q", s)
    }
}

// CodecFor returns a codec instance for a given format.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
    switch f {
    case FormatJSON:
        if c := r.Get(ContentJSON); c != nil { return c, nil }
        return codec.JSON(), nil
    case FormatCBOR:
        if c := r.Get(ContentCBOR); c != nil { return c, nil }
        return codec.CBOR()
    case FormatProto:
        if c := r.Get(ContentProto); c != nil { return c, nil }
        return codec.Proto(), nil
    default:
        return nil, fmt.Errorf("unknown format: %d", f)
    }
}

// EncodeBody serializes v using the codec for f and prefixes the payload
// with a single format byte.
func EncodeBody(r *codec.Registry, f Format, v any) ([]byte, error) {
    c, err := CodecFor(r, f)
    if err != nil { return nil, err }
    b, err := c.Marshal(v)
    if err != nil { return nil, err }
    out := make([]byte, 1+len(b))
    out[0] = byte(f)
    copy(out[1:], b)
    return out, nil
}

// DecodeBody decodes payload produced by EncodeBody into v. A proto payload
// may be decoded into *map[string]any.
func DecodeBody(r *codec.Registry, payload []byte, v any) (Format, error) {
    if len(payload) == 0 { return FormatUnknown, fmt.Errorf("empty payload") }
    f := Format(payload[0])
    c, err := CodecFor(r, f)
    if err != nil { return f, err }
    if err := c.Unmarshal(payload[1:], v); err != nil { return f, err }
    return f, nil
}

// PayloadArg encodes v as a single blob argument.
func PayloadArg(r *codec.Registry, f Format, v any) (osc.Arg, error) {
    b, err := EncodeBody(r, f, v)
    if err != nil { return osc.Arg{}, err }
    return osc.Blob(b), nil
}

// DecodeArg decodes a blob argument produced by PayloadArg.
func DecodeArg(r *codec.Registry, a osc.Arg, v any) (Format, error) {
    if a.Type != osc.TypeBlob { return FormatUnknown, fmt.Errorf("payload: want blob, got %s", a.Type) }
    return DecodeBody(r, a.B, v)
}
