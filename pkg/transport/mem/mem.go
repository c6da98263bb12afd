package mem

import (
    "context"
    "errors"
    "fmt"
    "net"
    "strconv"
    "sync"
    "sync/atomic"
    "syscall"
    "time"

    "mcpbridge/pkg/transport"
)

const clientPortBase = 20000

var (
    ErrAddrInUse  = errors.New("mem: address already in use")
    // ErrNoListener wraps ECONNREFUSED so callers treat it like a UDP peer
    // that is not listening.
    ErrNoListener = fmt.Errorf("mem: no listener at address: %w", syscall.ECONNREFUSED)
)

// Transport is an in-process datagram network. Listeners and senders created
// from the same Transport can reach each other; separate Transports are
// isolated. Useful for tests and for embedding the bridge without sockets.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*listener
    nextPort  int
    clients   atomic.Int64
    queue     int
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener), nextPort: 40000, queue: 256} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

// Listen binds address ("host:port"). Port 0 picks an unused port.
func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    host, port, err := splitAddr(address)
    if err != nil { return nil, err }
    t.mu.Lock()
    if port == 0 {
        for {
            t.nextPort++
            if _, taken := t.listeners[joinAddr(host, t.nextPort)]; !taken { break }
        }
        port = t.nextPort
    }
    key := joinAddr(host, port)
    if _, ok := t.listeners[key]; ok {
        t.mu.Unlock()
        return nil, fmt.Errorf("%w: %s", ErrAddrInUse, key)
    }
    l := &listener{t: t, addr: memAddr(key), rxCh: make(chan transport.Packet, t.queue), closeCh: make(chan struct{})}
    t.listeners[key] = l
    t.mu.Unlock()
    go func() {
        select {
        case <-ctx.Done():
            _ = l.Close()
        case <-l.closeCh:
        }
    }()
    return l, nil
}

// Dial returns a sender for address. The listener is resolved on every Send,
// so a sender outlives listener restarts the way a UDP socket does. Packets
// appear to come from the dialed host on a per-sender client port.
func (t *Transport) Dial(_ context.Context, address string) (transport.Sender, error) {
    host, port, err := splitAddr(address)
    if err != nil { return nil, err }
    from := memAddr(joinAddr(host, clientPortBase+int(t.clients.Add(1))%10000))
    return &sender{t: t, to: memAddr(joinAddr(host, port)), from: from}, nil
}

// PortFree reports whether host:port is unbound in this network.
func (t *Transport) PortFree(host string, port int) bool {
    t.mu.Lock(); defer t.mu.Unlock()
    _, taken := t.listeners[joinAddr(host, port)]
    return !taken
}

func (t *Transport) lookup(addr string) *listener {
    t.mu.Lock(); defer t.mu.Unlock()
    return t.listeners[addr]
}

func (t *Transport) remove(l *listener) {
    t.mu.Lock(); defer t.mu.Unlock()
    if t.listeners[string(l.addr)] == l { delete(t.listeners, string(l.addr)) }
}

func splitAddr(address string) (string, int, error) {
    host, ps, err := net.SplitHostPort(address)
    if err != nil { return "", 0, err }
    port, err := strconv.Atoi(ps)
    if err != nil || port < 0 || port > 65535 { return "", 0, fmt.Errorf("mem: invalid port in %q", address) }
    return host, port, nil
}

func joinAddr(host string, port int) string { return net.JoinHostPort(host, strconv.Itoa(port)) }

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type listener struct {
    t         *Transport
    addr      memAddr
    rxCh      chan transport.Packet
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.addr }

func (l *listener) Recv(ctx context.Context) (transport.Packet, error) {
    select {
    case <-ctx.Done():
        return transport.Packet{}, ctx.Err()
    case <-l.closeCh:
        return transport.Packet{}, transport.ErrClosed
    case p := <-l.rxCh:
        return p, nil
    }
}

func (l *listener) Close() error {
    l.closeOnce.Do(func() {
        close(l.closeCh)
        l.t.remove(l)
    })
    return nil
}

func (l *listener) deliver(p transport.Packet) {
    select {
    case <-l.closeCh:
    case l.rxCh <- p:
    default:
        // full: drop like a socket buffer would
    }
}

type sender struct {
    t      *Transport
    to     memAddr
    from   memAddr
    closed atomic.Bool
}

func (s *sender) RemoteAddr() net.Addr { return s.to }

func (s *sender) Send(b []byte) error {
    if s.closed.Load() { return transport.ErrClosed }
    l := s.t.lookup(string(s.to))
    if l == nil { return fmt.Errorf("%w: %s", ErrNoListener, s.to) }
    pkt := make([]byte, len(b))
    copy(pkt, b)
    l.deliver(transport.Packet{Data: pkt, From: s.from, ReceivedAt: time.Now()})
    return nil
}

func (s *sender) Close() error { s.closed.Store(true); return nil }
