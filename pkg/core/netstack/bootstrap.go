package netstack

import (
    "strings"

    "mcpbridge/pkg/transport"
    "mcpbridge/pkg/transport/mem"
    "mcpbridge/pkg/transport/tcp"
    "mcpbridge/pkg/transport/udp"
)

// NewByKind constructs a Transport by string kind. bufferSize sizes the UDP
// datagram read buffer.
func NewByKind(kind string, bufferSize int) (transport.Transport, error) {
    switch strings.ToLower(strings.TrimSpace(kind)) {
    case "", "udp":
        return udp.NewWithOptions(udp.Options{ReadBuffer: bufferSize}), nil
    case "tcp":
        return tcp.New(), nil
    case "mem", "inproc":
        return mem.New(), nil
    default:
        return nil, ErrUnknownKind(kind)
    }
}

// Basic typed error for unknown kinds
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }
