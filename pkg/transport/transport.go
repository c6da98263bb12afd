package transport

import (
    "context"
    "errors"
    "net"
    "syscall"
    "time"
)

// Kind identifies the link type.
type Kind int

const (
    KindUnknown Kind = iota
    KindUDP
    KindMem
    KindTCP
)

func (k Kind) String() string {
    switch k {
    case KindUDP:
        return "udp"
    case KindMem:
        return "mem"
    case KindTCP:
        return "tcp"
    default:
        return "unknown"
    }
}

// Packet is one received datagram.
type Packet struct {
    Data       []byte
    From       net.Addr
    ReceivedAt time.Time
}

// Listener is a bound datagram socket.
type Listener interface {
    // Recv blocks until a packet arrives, ctx is done or the listener closes.
    Recv(ctx context.Context) (Packet, error)
    Addr() net.Addr
    // Close unblocks Recv. Calling it more than once is a no-op.
    Close() error
}

// Sender writes datagrams to one remote address.
type Sender interface {
    Send(b []byte) error
    RemoteAddr() net.Addr
    Close() error
}

// Transport binds listeners and dials senders for a specific link kind.
type Transport interface {
    Kind() Kind
    Listen(ctx context.Context, address string) (Listener, error)
    Dial(ctx context.Context, address string) (Sender, error)
}

// ErrClosed is returned by Recv and Send after Close.
var ErrClosed = errors.New("transport: closed")

// TransportError wraps a socket-level failure with the operation and address.
type TransportError struct {
    Op   string // bind, send, receive
    Addr string
    Err  error
}

func (e *TransportError) Error() string {
    s := "transport " + e.Op
    if e.Addr != "" { s += " " + e.Addr }
    return s + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
    var te *TransportError
    return errors.As(err, &te)
}

// IsRefused reports whether a send failed only because nothing listens at the
// remote address. On a connected datagram socket this surfaces the ICMP
// port-unreachable of an earlier packet; the socket itself stays usable.
func IsRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
