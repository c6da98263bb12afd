package security

import (
    "errors"
    "fmt"
)

// Kind classifies a policy violation.
type Kind int

const (
    SizeExceeded Kind = iota + 1
    RateLimited
    OriginDenied
    Unauthorized
    CommandRestricted
    AddressDenied
)

func (k Kind) String() string {
    switch k {
    case SizeExceeded:
        return "size_exceeded"
    case RateLimited:
        return "rate_limited"
    case OriginDenied:
        return "origin_denied"
    case Unauthorized:
        return "unauthorized"
    case CommandRestricted:
        return "command_restricted"
    case AddressDenied:
        return "address_denied"
    default:
        return "unknown"
    }
}

var (
    ErrSizeExceeded      = errors.New("security: message size exceeded")
    ErrRateLimited       = errors.New("security: rate limited")
    ErrOriginDenied      = errors.New("security: origin denied")
    ErrUnauthorized      = errors.New("security: unauthorized")
    ErrCommandRestricted = errors.New("security: command restricted")
    ErrAddressDenied     = errors.New("security: address denied")
)

func sentinel(k Kind) error {
    switch k {
    case SizeExceeded:
        return ErrSizeExceeded
    case RateLimited:
        return ErrRateLimited
    case OriginDenied:
        return ErrOriginDenied
    case Unauthorized:
        return ErrUnauthorized
    case CommandRestricted:
        return ErrCommandRestricted
    case AddressDenied:
        return ErrAddressDenied
    default:
        return nil
    }
}

// Violation is the error returned by every failed check.
type Violation struct {
    Kind   Kind
    Client string
    Detail string
}

func (v *Violation) Error() string {
    s := sentinel(v.Kind).Error()
    if v.Detail != "" { s += ": " + v.Detail }
    if v.Client != "" { s += fmt.Sprintf(" (client %s)", v.Client) }
    return s
}

func (v *Violation) Unwrap() error { return sentinel(v.Kind) }

// KindOf extracts the violation kind from err, 0 when err is not a Violation.
func KindOf(err error) Kind {
    var v *Violation
    if errors.As(err, &v) { return v.Kind }
    return 0
}
