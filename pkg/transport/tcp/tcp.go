package tcp

import (
    "bufio"
    "context"
    "encoding/binary"
    "errors"
    "fmt"
    "io"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"

    "mcpbridge/pkg/transport"
)

// MaxFrame bounds a single stream frame.
const MaxFrame = 1 << 24

var ErrFrameTooLarge = errors.New("tcp: frame too large")

// TCPTransport carries OSC packets over TCP using OSC 1.0 stream framing: each
// packet is preceded by its size as a big-endian int32.
type TCPTransport struct{ queue int }

func New() *TCPTransport { return &TCPTransport{queue: 256} }

func (t *TCPTransport) Kind() transport.Kind { return transport.KindTCP }

// Listen accepts connections on address and merges their frames into one
// packet stream.
func (t *TCPTransport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := net.Listen("tcp", address)
    if err != nil { return nil, err }
    tl := &listener{l: l, rxCh: make(chan transport.Packet, t.queue), closeCh: make(chan struct{}), conns: make(map[net.Conn]struct{})}
    go tl.acceptLoop()
    go func() {
        select {
        case <-ctx.Done():
            _ = tl.Close()
        case <-tl.closeCh:
        }
    }()
    return tl, nil
}

func (t *TCPTransport) Dial(ctx context.Context, address string) (transport.Sender, error) {
    d := &net.Dialer{}
    c, err := d.DialContext(ctx, "tcp", address)
    if err != nil { return nil, err }
    return &sender{c: c, bw: bufio.NewWriter(c)}, nil
}

type listener struct {
    l         net.Listener
    rxCh      chan transport.Packet
    closeCh   chan struct{}
    closeOnce sync.Once

    mu    sync.Mutex
    conns map[net.Conn]struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

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
    var err error
    l.closeOnce.Do(func() {
        close(l.closeCh)
        err = l.l.Close()
        l.mu.Lock()
        for c := range l.conns { _ = c.Close() }
        l.mu.Unlock()
    })
    return err
}

func (l *listener) acceptLoop() {
    for {
        c, err := l.l.Accept()
        if err != nil { return }
        l.mu.Lock()
        select {
        case <-l.closeCh:
            l.mu.Unlock()
            _ = c.Close()
            return
        default:
        }
        l.conns[c] = struct{}{}
        l.mu.Unlock()
        go l.readConn(c)
    }
}

func (l *listener) readConn(c net.Conn) {
    defer func() {
        l.mu.Lock()
        delete(l.conns, c)
        l.mu.Unlock()
        _ = c.Close()
    }()
    br := bufio.NewReader(c)
    for {
        b, err := readFrame(br)
        if err != nil {
            if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
                zap.L().Debug("tcp connection dropped", zap.String("from", c.RemoteAddr().String()), zap.Error(err))
            }
            return
        }
        select {
        case l.rxCh <- transport.Packet{Data: b, From: c.RemoteAddr(), ReceivedAt: time.Now()}:
        case <-l.closeCh:
            return
        }
    }
}

func readFrame(r io.Reader) ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(r, lenbuf[:]); err != nil { return nil, err }
    n := binary.BigEndian.Uint32(lenbuf[:])
    if n > MaxFrame { return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n) }
    buf := make([]byte, n)
    if _, err := io.ReadFull(r, buf); err != nil { return nil, err }
    return buf, nil
}

type sender struct {
    mu     sync.Mutex
    c      net.Conn
    bw     *bufio.Writer
    closed bool
}

func (s *sender) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

// Send writes one frame.
func (s *sender) Send(b []byte) error {
    if len(b) > MaxFrame { return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b)) }
    s.mu.Lock(); defer s.mu.Unlock()
    if s.closed { return transport.ErrClosed }
    var lenbuf [4]byte
    binary.BigEndian.PutUint32(lenbuf[:], uint32(len(b)))
    if _, err := s.bw.Write(lenbuf[:]); err != nil { return err }
    if _, err := s.bw.Write(b); err != nil { return err }
    return s.bw.Flush()
}

func (s *sender) Close() error {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.closed { return nil }
    s.closed = true
    return s.c.Close()
}
