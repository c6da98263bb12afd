package osc

import (
    "errors"
    "strings"
)

const (
    // MaxAddressLength is the longest accepted address pattern.
    MaxAddressLength = 255
    // DefaultMaxBlobSize caps blob arguments when a Codec has no explicit limit.
    DefaultMaxBlobSize = 1 << 20
)

var (
    ErrEmptyAddress    = errors.New("osc: empty address")
    ErrAddressRoot     = errors.New("osc: address must start with '/'")
    ErrAddressTooLong  = errors.New("osc: address too long")
    ErrBlobTooLarge    = errors.New("osc: blob exceeds size limit")
    ErrUnsupportedType = errors.New("osc: unsupported argument type")
    ErrTruncated       = errors.New("osc: truncated packet")
    ErrEmbeddedNUL     = errors.New("osc: NUL byte inside string")
    ErrBadPattern      = errors.New("osc: invalid address pattern")
)

// ProtocolError reports a malformed message. It is per-packet and never fatal
// to the loop that produced it.
type ProtocolError struct {
    Address string
    Detail  string
    Err     error
}

func (e *ProtocolError) Error() string {
    var sb strings.Builder
    sb.WriteString(e.Err.Error())
    if e.Detail != "" { sb.WriteString(": "); sb.WriteString(e.Detail) }
    if e.Address != "" { sb.WriteString(" (address "); sb.WriteString(e.Address); sb.WriteString(")") }
    return sb.String()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(addr string, err error, detail string) *ProtocolError {
    return &ProtocolError{Address: addr, Detail: detail, Err: err}
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
    var pe *ProtocolError
    return errors.As(err, &pe)
}

// ValidateAddress checks the address rules shared by encoder and decoder.
func ValidateAddress(addr string) error {
    switch {
    case addr == "":
        return protoErr(addr, ErrEmptyAddress, "")
    case addr[0] != '/':
        return protoErr(addr, ErrAddressRoot, "")
    case len(addr) > MaxAddressLength:
        return protoErr(addr[:32]+"...", ErrAddressTooLong, "")
    case strings.IndexByte(addr, 0) >= 0:
        return protoErr(strings.ReplaceAll(addr, "\x00", `\0`), ErrEmbeddedNUL, "address")
    }
    return nil
}
