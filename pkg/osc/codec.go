package osc

import (
    "bytes"
    "encoding/binary"
    "fmt"
    "math"
    "strings"
)

// Codec encodes and decodes OSC 1.0 messages. The zero value uses
// DefaultMaxBlobSize.
type Codec struct {
    // MaxBlobSize limits blob arguments in both directions; <=0 means default.
    MaxBlobSize int
}

func (c Codec) maxBlob() int {
    if c.MaxBlobSize <= 0 { return DefaultMaxBlobSize }
    return c.MaxBlobSize
}

// Encode serializes m with the default codec.
func Encode(m Message) ([]byte, error) { return Codec{}.Encode(m) }

// Decode parses b with the default codec.
func Decode(b []byte) (Message, error) { return Codec{}.Decode(b) }

func pad4(n int) int { return (n + 3) &^ 3 }

func writeString(buf *bytes.Buffer, s string) {
    buf.WriteString(s)
    n := pad4(len(s)+1) - len(s)
    for i := 0; i < n; i++ { buf.WriteByte(0) }
}

// Encode serializes m. Address and blob limits are enforced on the way out
// so a peer never receives a packet it must reject.
func (c Codec) Encode(m Message) ([]byte, error) {
    if err := ValidateAddress(m.Address); err != nil { return nil, err }
    var buf bytes.Buffer
    writeString(&buf, m.Address)
    writeString(&buf, m.TypeTags())
    var w [4]byte
    for i, a := range m.Args {
        switch a.Type {
        case TypeInt32:
            binary.BigEndian.PutUint32(w[:], uint32(a.I))
            buf.Write(w[:])
        case TypeFloat32:
            binary.BigEndian.PutUint32(w[:], math.Float32bits(a.F))
            buf.Write(w[:])
        case TypeString:
            // the reader stops at the first NUL, so one inside s would
            // shift every argument after it
            if strings.IndexByte(a.S, 0) >= 0 {
                return nil, protoErr(m.Address, ErrEmbeddedNUL, fmt.Sprintf("argument %d", i))
            }
            writeString(&buf, a.S)
        case TypeBlob:
            if len(a.B) > c.maxBlob() {
                return nil, protoErr(m.Address, ErrBlobTooLarge, fmt.Sprintf("%d > %d bytes", len(a.B), c.maxBlob()))
            }
            binary.BigEndian.PutUint32(w[:], uint32(len(a.B)))
            buf.Write(w[:])
            buf.Write(a.B)
            for i := len(a.B); i < pad4(len(a.B)); i++ { buf.WriteByte(0) }
        case TypeTrue, TypeFalse, TypeNil, TypeInfinitum:
            // no payload
        default:
            return nil, protoErr(m.Address, ErrUnsupportedType, fmt.Sprintf("tag %q", byte(a.Type)))
        }
    }
    return buf.Bytes(), nil
}

type reader struct {
    b   []byte
    off int
}

func (r *reader) done() bool { return r.off >= len(r.b) }

func (r *reader) str() (string, bool) {
    i := bytes.IndexByte(r.b[r.off:], 0)
    if i < 0 { return "", false }
    s := string(r.b[r.off : r.off+i])
    next := r.off + pad4(i+1)
    if next > len(r.b) { return "", false }
    r.off = next
    return s, true
}

func (r *reader) u32() (uint32, bool) {
    if r.off+4 > len(r.b) { return 0, false }
    v := binary.BigEndian.Uint32(r.b[r.off:])
    r.off += 4
    return v, true
}

func (r *reader) u64() (uint64, bool) {
    if r.off+8 > len(r.b) { return 0, false }
    v := binary.BigEndian.Uint64(r.b[r.off:])
    r.off += 8
    return v, true
}

// Decode parses one message. Every failure is a *ProtocolError. The returned
// blobs are copies, so b may be reused by the caller.
func (c Codec) Decode(b []byte) (Message, error) {
    r := &reader{b: b}
    addr, ok := r.str()
    if !ok {
        if len(b) == 0 || b[0] == 0 { return Message{}, protoErr("", ErrEmptyAddress, "") }
        return Message{}, protoErr("", ErrTruncated, "address")
    }
    if err := ValidateAddress(addr); err != nil { return Message{}, err }
    m := Message{Address: addr}
    if r.done() { return m, nil }

    tags, ok := r.str()
    if !ok { return Message{}, protoErr(addr, ErrTruncated, "type tags") }
    if len(tags) == 0 || tags[0] != ',' {
        return Message{}, protoErr(addr, ErrUnsupportedType, "missing type tag string")
    }
    m.Args = make([]Arg, 0, len(tags)-1)
    for _, t := range []byte(tags[1:]) {
        a, err := c.decodeArg(r, addr, t)
        if err != nil { return Message{}, err }
        m.Args = append(m.Args, a)
    }
    return m, nil
}

func (c Codec) decodeArg(r *reader, addr string, t byte) (Arg, error) {
    short := func(what string) (Arg, error) { return Arg{}, protoErr(addr, ErrTruncated, what) }
    switch t {
    case 'i':
        v, ok := r.u32()
        if !ok { return short("int32") }
        return Int32(int32(v)), nil
    case 'f':
        v, ok := r.u32()
        if !ok { return short("float32") }
        return Float32(math.Float32frombits(v)), nil
    case 's', 'S':
        s, ok := r.str()
        if !ok { return short("string") }
        return String(s), nil
    case 'c':
        v, ok := r.u32()
        if !ok { return short("char") }
        return String(string(rune(v))), nil
    case 'b':
        v, ok := r.u32()
        if !ok { return short("blob size") }
        n := int(int32(v))
        if n < 0 { return Arg{}, protoErr(addr, ErrTruncated, "negative blob size") }
        if n > c.maxBlob() {
            return Arg{}, protoErr(addr, ErrBlobTooLarge, fmt.Sprintf("%d > %d bytes", n, c.maxBlob()))
        }
        if r.off+n > len(r.b) { return short("blob") }
        data := make([]byte, n)
        copy(data, r.b[r.off:r.off+n])
        r.off += pad4(n)
        if r.off > len(r.b) { r.off = len(r.b) }
        return Blob(data), nil
    case 'h':
        v, ok := r.u64()
        if !ok { return short("int64") }
        a, err := intArg(int64(v))
        if err != nil { return Arg{}, protoErr(addr, ErrUnsupportedType, "int64 out of int32 range") }
        return a, nil
    case 'd':
        v, ok := r.u64()
        if !ok { return short("float64") }
        return Float32(float32(math.Float64frombits(v))), nil
    case 'T':
        return Bool(true), nil
    case 'F':
        return Bool(false), nil
    case 'N':
        return Nil(), nil
    case 'I':
        return Inf(), nil
    default:
        return Arg{}, protoErr(addr, ErrUnsupportedType, fmt.Sprintf("tag %q", t))
    }
}
