package udp

import (
    "context"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"

    "mcpbridge/pkg/transport"
)

const (
    DefaultReadBuffer = 64 * 1024
    DefaultQueue      = 256
)

// Options tunes socket buffers. Zero values take the defaults.
type Options struct {
    // ReadBuffer is the per-datagram read buffer; longer datagrams are truncated.
    ReadBuffer int
    // Queue is the number of received packets buffered before drops.
    Queue int
}

// UDPTransport carries one OSC packet per datagram.
type UDPTransport struct{ opts Options }

func New() *UDPTransport { return NewWithOptions(Options{}) }

func NewWithOptions(o Options) *UDPTransport {
    if o.ReadBuffer <= 0 { o.ReadBuffer = DefaultReadBuffer }
    if o.Queue <= 0 { o.Queue = DefaultQueue }
    return &UDPTransport{opts: o}
}

func (t *UDPTransport) Kind() transport.Kind { return transport.KindUDP }

func (t *UDPTransport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    laddr, err := net.ResolveUDPAddr("udp", address)
    if err != nil { return nil, err }
    c, err := net.ListenUDP("udp", laddr)
    if err != nil { return nil, err }
    l := &udpListener{
        conn:    c,
        rxCh:    make(chan transport.Packet, t.opts.Queue),
        closeCh: make(chan struct{}),
        bufSize: t.opts.ReadBuffer,
    }
    go l.readLoop()
    go func() {
        select {
        case <-ctx.Done():
            _ = l.Close()
        case <-l.closeCh:
        }
    }()
    return l, nil
}

func (t *UDPTransport) Dial(ctx context.Context, address string) (transport.Sender, error) {
    raddr, err := net.ResolveUDPAddr("udp", address)
    if err != nil { return nil, err }
    c, err := net.DialUDP("udp", nil, raddr)
    if err != nil { return nil, err }
    return &udpSender{conn: c, raddr: raddr}, nil
}

// ---- Listener ----

type udpListener struct {
    conn      *net.UDPConn
    rxCh      chan transport.Packet
    closeCh   chan struct{}
    closeOnce sync.Once
    bufSize   int
}

func (l *udpListener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *udpListener) Recv(ctx context.Context) (transport.Packet, error) {
    select {
    case <-ctx.Done():
        return transport.Packet{}, ctx.Err()
    case p, ok := <-l.rxCh:
        if !ok { return transport.Packet{}, transport.ErrClosed }
        return p, nil
    }
}

func (l *udpListener) Close() error {
    var err error
    l.closeOnce.Do(func() {
        close(l.closeCh)
        err = l.conn.Close()
    })
    return err
}

func (l *udpListener) readLoop() {
    defer close(l.rxCh)
    buf := make([]byte, l.bufSize)
    for {
        n, raddr, err := l.conn.ReadFromUDP(buf)
        if err != nil {
            select {
            case <-l.closeCh:
            default:
                zap.L().Warn("udp read failed", zap.String("addr", l.conn.LocalAddr().String()), zap.Error(err))
            }
            return
        }
        // copy out payload; buf is reused
        pkt := make([]byte, n)
        copy(pkt, buf[:n])
        select {
        case l.rxCh <- transport.Packet{Data: pkt, From: raddr, ReceivedAt: time.Now()}:
        default:
            zap.L().Debug("udp rx queue full, dropping packet", zap.String("from", raddr.String()))
        }
    }
}

// ---- Sender ----

type udpSender struct {
    conn      *net.UDPConn
    raddr     *net.UDPAddr
    closeOnce sync.Once
    mu        sync.Mutex
    closed    bool
}

func (s *udpSender) RemoteAddr() net.Addr { return s.raddr }

func (s *udpSender) Send(b []byte) error {
    s.mu.Lock()
    closed := s.closed
    s.mu.Unlock()
    if closed { return transport.ErrClosed }
    _, err := s.conn.Write(b)
    return err
}

func (s *udpSender) Close() error {
    var err error
    s.closeOnce.Do(func() {
        s.mu.Lock(); s.closed = true; s.mu.Unlock()
        err = s.conn.Close()
    })
    return err
}
