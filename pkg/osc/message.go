// Package osc implements the typed address+argument message model and its
// OSC 1.0 wire encoding.
package osc

import (
    "bytes"
    "fmt"
    "math"
    "strconv"
    "strings"
)

// Type is an argument type tag as carried on the wire.
type Type byte

const (
    TypeInt32     Type = 'i'
    TypeFloat32   Type = 'f'
    TypeString    Type = 's'
    TypeBlob      Type = 'b'
    TypeTrue      Type = 'T'
    TypeFalse     Type = 'F'
    TypeNil       Type = 'N'
    TypeInfinitum Type = 'I'
)

func (t Type) String() string {
    switch t {
    case TypeInt32:
        return "int32"
    case TypeFloat32:
        return "float32"
    case TypeString:
        return "string"
    case TypeBlob:
        return "blob"
    case TypeTrue, TypeFalse:
        return "bool"
    case TypeNil:
        return "nil"
    case TypeInfinitum:
        return "infinitum"
    default:
        return "unknown(" + strconv.Itoa(int(t)) + ")"
    }
}

// Infinitum is the Go value of an infinitum ("impulse") argument.
type Infinitum struct{}

// Arg is one typed argument. Only the field matching Type is meaningful.
type Arg struct {
    Type Type
    I    int32
    F    float32
    S    string
    B    []byte
}

func Int32(v int32) Arg     { return Arg{Type: TypeInt32, I: v} }
func Float32(v float32) Arg { return Arg{Type: TypeFloat32, F: v} }
func String(v string) Arg   { return Arg{Type: TypeString, S: v} }
func Blob(v []byte) Arg     { return Arg{Type: TypeBlob, B: v} }
func Nil() Arg              { return Arg{Type: TypeNil} }
func Inf() Arg              { return Arg{Type: TypeInfinitum} }

func Bool(v bool) Arg {
    if v { return Arg{Type: TypeTrue} }
    return Arg{Type: TypeFalse}
}

// ArgOf converts a plain Go value into an Arg. Integers must fit in int32.
func ArgOf(v any) (Arg, error) {
    switch x := v.(type) {
    case Arg:
        return x, nil
    case nil:
        return Nil(), nil
    case Infinitum:
        return Inf(), nil
    case bool:
        return Bool(x), nil
    case int32:
        return Int32(x), nil
    case int:
        return intArg(int64(x))
    case int64:
        return intArg(x)
    case uint8:
        return Int32(int32(x)), nil
    case uint16:
        return Int32(int32(x)), nil
    case uint32:
        return intArg(int64(x))
    case uint64:
        if x > math.MaxInt32 { return Arg{}, fmt.Errorf("%w: integer %d overflows int32", ErrUnsupportedType, x) }
        return Int32(int32(x)), nil
    case float32:
        return Float32(x), nil
    case float64:
        return Float32(float32(x)), nil
    case string:
        return String(x), nil
    case []byte:
        return Blob(x), nil
    default:
        return Arg{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
    }
}

func intArg(v int64) (Arg, error) {
    if v < math.MinInt32 || v > math.MaxInt32 {
        return Arg{}, fmt.Errorf("%w: integer %d overflows int32", ErrUnsupportedType, v)
    }
    return Int32(int32(v)), nil
}

// Args converts a list of plain values with ArgOf.
func Args(vs ...any) ([]Arg, error) {
    out := make([]Arg, 0, len(vs))
    for _, v := range vs {
        a, err := ArgOf(v)
        if err != nil { return nil, err }
        out = append(out, a)
    }
    return out, nil
}

// MustArgs is Args for literals known to be valid.
func MustArgs(vs ...any) []Arg {
    out, err := Args(vs...)
    if err != nil { panic(err) }
    return out
}

// Value returns the argument as a plain Go value.
func (a Arg) Value() any {
    switch a.Type {
    case TypeInt32:
        return a.I
    case TypeFloat32:
        return a.F
    case TypeString:
        return a.S
    case TypeBlob:
        return a.B
    case TypeTrue:
        return true
    case TypeFalse:
        return false
    case TypeInfinitum:
        return Infinitum{}
    default:
        return nil
    }
}

// Equal reports whether both args carry the same tag and value.
func (a Arg) Equal(b Arg) bool {
    if a.Type != b.Type { return false }
    switch a.Type {
    case TypeInt32:
        return a.I == b.I
    case TypeFloat32:
        return math.Float32bits(a.F) == math.Float32bits(b.F)
    case TypeString:
        return a.S == b.S
    case TypeBlob:
        return bytes.Equal(a.B, b.B)
    default:
        return true
    }
}

func (a Arg) String() string {
    switch a.Type {
    case TypeInt32:
        return strconv.FormatInt(int64(a.I), 10)
    case TypeFloat32:
        return strconv.FormatFloat(float64(a.F), 'g', -1, 32)
    case TypeString:
        return strconv.Quote(a.S)
    case TypeBlob:
        return fmt.Sprintf("blob[%d]", len(a.B))
    case TypeTrue:
        return "true"
    case TypeFalse:
        return "false"
    case TypeNil:
        return "nil"
    case TypeInfinitum:
        return "inf"
    default:
        return a.Type.String()
    }
}

// ParseArg types a command-line literal: integers, floats, true/false, nil,
// inf; anything else is a string.
func ParseArg(s string) Arg {
    switch strings.ToLower(s) {
    case "true":
        return Bool(true)
    case "false":
        return Bool(false)
    case "nil":
        return Nil()
    case "inf":
        return Inf()
    }
    if i, err := strconv.ParseInt(s, 10, 32); err == nil { return Int32(int32(i)) }
    if f, err := strconv.ParseFloat(s, 32); err == nil { return Float32(float32(f)) }
    return String(s)
}

// Message is one addressed packet.
type Message struct {
    Address string
    Args    []Arg
}

// NewMessage builds a message from plain values.
func NewMessage(address string, vs ...any) (Message, error) {
    args, err := Args(vs...)
    if err != nil { return Message{}, err }
    return Message{Address: address, Args: args}, nil
}

// TypeTags returns the wire type-tag string including the leading comma.
func (m Message) TypeTags() string {
    var sb strings.Builder
    sb.WriteByte(',')
    for _, a := range m.Args { sb.WriteByte(byte(a.Type)) }
    return sb.String()
}

// Values returns the plain Go values of all arguments.
func (m Message) Values() []any {
    out := make([]any, len(m.Args))
    for i, a := range m.Args { out[i] = a.Value() }
    return out
}

func (m Message) String() string {
    parts := make([]string, 0, len(m.Args)+1)
    parts = append(parts, m.Address)
    for _, a := range m.Args { parts = append(parts, a.String()) }
    return strings.Join(parts, " ")
}

// Equal compares address and every argument's tag and value.
func (m Message) Equal(o Message) bool {
    if m.Address != o.Address || len(m.Args) != len(o.Args) { return false }
    for i := range m.Args {
        if !m.Args[i].Equal(o.Args[i]) { return false }
    }
    return true
}
