package netstack

import (
    "errors"
    "fmt"
)

const (
    // EphemeralLow and EphemeralHigh bound the port window used in
    // compatibility mode.
    EphemeralLow  = 49152
    EphemeralHigh = 65535
    maxPort       = 65535
)

// ErrPortsExhausted is returned when every candidate port was taken.
var ErrPortsExhausted = errors.New("netstack: ports exhausted")

// PortError describes a failed bind search.
type PortError struct {
    Base     int
    Attempts int
    Err      error
}

func (e *PortError) Error() string {
    return fmt.Sprintf("bind base=%d attempts=%d: %v", e.Base, e.Attempts, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// Bind returns the first port in [base, base+maxAttempts) for which free
// reports true. It never touches the network itself, so callers decide what
// "free" means: a probe, a trial bind, or a test table.
func Bind(base, maxAttempts int, free func(port int) bool) (int, error) {
    if maxAttempts <= 0 { maxAttempts = 1 }
    tried := 0
    for i := 0; i < maxAttempts; i++ {
        p := base + i
        if p < 0 || p > maxPort { break }
        tried++
        if free(p) { return p, nil }
    }
    return 0, &PortError{Base: base, Attempts: tried, Err: ErrPortsExhausted}
}

// EffectiveBase applies the compatibility window: with both flags set, a
// base outside the ephemeral range moves to its start.
func EffectiveBase(port int, dynamic, compat bool) int {
    if dynamic && compat && port != 0 && (port < EphemeralLow || port > EphemeralHigh) {
        return EphemeralLow
    }
    return port
}
