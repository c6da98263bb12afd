package codec

import (
    "bytes"
    "encoding/json"
    "errors"
    "io"
)

var errTrailingJSON = errors.New("json: trailing data after payload")

type jsonCodec struct{}

// JSON returns a codec for application/json payloads. Output is compact and
// leaves <, > and & unescaped since blobs never reach an HTML page.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
    var buf bytes.Buffer
    enc := json.NewEncoder(&buf)
    enc.SetEscapeHTML(false)
    if err := enc.Encode(v); err != nil { return nil, err }
    return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Unmarshal decodes exactly one JSON value.
func (jsonCodec) Unmarshal(data []byte, v any) error {
    dec := json.NewDecoder(bytes.NewReader(data))
    if err := dec.Decode(v); err != nil { return err }
    if _, err := dec.Token(); !errors.Is(err, io.EOF) { return errTrailingJSON }
    return nil
}
