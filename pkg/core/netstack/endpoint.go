package netstack

import (
    "context"
    "errors"
    "fmt"
    "net"
    "strconv"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "mcpbridge/pkg/core/priocq"
    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/transport"
)

// EndpointConfig is the connection snapshot consumed at bind time.
type EndpointConfig struct {
    Host              string
    PortIn            int
    PortOut           int
    DynamicPorts      bool
    CompatibilityMode bool
    // PortAttempts is the binder budget when DynamicPorts is set.
    PortAttempts int
    MaxBlobSize  int
    // SendRateBytes shapes outbound traffic; 0 disables shaping.
    SendRateBytes int64
}

// Inbound is a decoded message with its origin.
type Inbound struct {
    Message    osc.Message
    From       net.Addr
    Size       int
    ReceivedAt time.Time
}

// EndpointOptions wires callbacks into the endpoint.
type EndpointOptions struct {
    // Inbox is the decoded-message buffer; full inbox drops packets.
    Inbox int
    // OnError receives per-packet ProtocolErrors and receive TransportErrors.
    OnError func(error)
    // OnReceiveFailure is called once when the listener dies unexpectedly.
    OnReceiveFailure func(error)
    // CheckSize gates outbound packets by encoded size.
    CheckSize func(n int) error
}

// Endpoint owns one listening socket and one default outbound socket and
// converts between wire bytes and osc.Message.
type Endpoint struct {
    tr    transport.Transport
    opts  EndpointOptions
    inbox chan Inbound

    mu      sync.Mutex
    cfg     EndpointConfig
    codec   osc.Codec
    ln      transport.Listener
    out     transport.Sender
    shaper  *priocq.TokenBucket
    cancel  context.CancelFunc
    done    chan struct{}
    port    int
    closing atomic.Bool

    sent     atomic.Uint64
    received atomic.Uint64
    dropped  atomic.Uint64
}

func NewEndpoint(tr transport.Transport, opts EndpointOptions) *Endpoint {
    if opts.Inbox <= 0 { opts.Inbox = 256 }
    return &Endpoint{tr: tr, opts: opts, inbox: make(chan Inbound, opts.Inbox)}
}

// BindAndListen binds the receive socket (searching ports when dynamic),
// dials the default outbound address and starts the receive loop. Any
// previous binding is closed first.
func (e *Endpoint) BindAndListen(ctx context.Context, cfg EndpointConfig) (int, error) {
    _ = e.Close()
    host := cfg.Host
    if host == "" { host = "127.0.0.1" }

    base := EffectiveBase(cfg.PortIn, cfg.DynamicPorts, cfg.CompatibilityMode)
    attempts := 1
    if cfg.DynamicPorts && base != 0 {
        attempts = cfg.PortAttempts
        if attempts <= 0 { attempts = 10 }
    }

    runCtx, cancel := context.WithCancel(context.Background())
    var ln transport.Listener
    var lastErr error
    port, err := Bind(base, attempts, func(p int) bool {
        if ctx.Err() != nil { lastErr = ctx.Err(); return false }
        l, err := e.tr.Listen(runCtx, net.JoinHostPort(host, strconv.Itoa(p)))
        if err != nil { lastErr = err; return false }
        ln = l
        return true
    })
    if err != nil {
        cancel()
        if lastErr != nil { err = fmt.Errorf("%w (last: %v)", err, lastErr) }
        return 0, &transport.TransportError{Op: "bind", Addr: net.JoinHostPort(host, strconv.Itoa(base)), Err: err}
    }
    if port == 0 { port = portOf(ln.Addr()) }

    var out transport.Sender
    if cfg.PortOut > 0 {
        raddr := net.JoinHostPort(host, strconv.Itoa(cfg.PortOut))
        out, err = e.tr.Dial(runCtx, raddr)
        if err != nil {
            cancel()
            _ = ln.Close()
            return 0, &transport.TransportError{Op: "bind", Addr: raddr, Err: err}
        }
    }

    var shaper *priocq.TokenBucket
    if cfg.SendRateBytes > 0 { shaper = priocq.NewTokenBucket(cfg.SendRateBytes, 2*cfg.SendRateBytes) }

    done := make(chan struct{})
    e.mu.Lock()
    e.cfg = cfg
    e.codec = osc.Codec{MaxBlobSize: cfg.MaxBlobSize}
    e.ln, e.out, e.shaper = ln, out, shaper
    e.cancel, e.done, e.port = cancel, done, port
    e.mu.Unlock()
    e.closing.Store(false)

    go e.recvLoop(runCtx, ln, done)
    zap.L().Info("endpoint bound",
        zap.String("kind", e.tr.Kind().String()),
        zap.String("addr", ln.Addr().String()),
        zap.Int("port_in", port),
        zap.Int("port_out", cfg.PortOut),
        zap.Bool("moved", port != cfg.PortIn))
    return port, nil
}

func portOf(a net.Addr) int {
    if ua, ok := a.(*net.UDPAddr); ok { return ua.Port }
    _, ps, err := net.SplitHostPort(a.String())
    if err != nil { return 0 }
    p, _ := strconv.Atoi(ps)
    return p
}

// Port returns the bound receive port, 0 when unbound.
func (e *Endpoint) Port() int {
    e.mu.Lock(); defer e.mu.Unlock()
    return e.port
}

// Bound reports whether a listener is active.
func (e *Endpoint) Bound() bool {
    e.mu.Lock(); defer e.mu.Unlock()
    return e.ln != nil
}

// Send encodes and writes a message to the default outbound address.
func (e *Endpoint) Send(address string, args ...osc.Arg) error {
    return e.SendMessage(osc.Message{Address: address, Args: args})
}

// SendMessage writes m to the default outbound address.
func (e *Endpoint) SendMessage(m osc.Message) error {
    e.mu.Lock()
    out, codec, shaper := e.out, e.codec, e.shaper
    e.mu.Unlock()
    if out == nil { return &transport.TransportError{Op: "send", Addr: m.Address, Err: transport.ErrClosed} }
    b, err := e.encode(codec, m)
    if err != nil { return err }
    e.shape(shaper, len(b))
    if err := out.Send(b); err != nil {
        return &transport.TransportError{Op: "send", Addr: out.RemoteAddr().String(), Err: err}
    }
    e.sent.Add(1)
    return nil
}

// RedialOut replaces the default outbound sender with a fresh one dialed to
// the same address. The listener is left alone.
func (e *Endpoint) RedialOut(ctx context.Context) error {
    e.mu.Lock()
    cfg, bound := e.cfg, e.ln != nil
    e.mu.Unlock()
    if !bound || cfg.PortOut <= 0 { return transport.ErrClosed }
    host := cfg.Host
    if host == "" { host = "127.0.0.1" }
    raddr := net.JoinHostPort(host, strconv.Itoa(cfg.PortOut))
    out, err := e.tr.Dial(ctx, raddr)
    if err != nil { return &transport.TransportError{Op: "send", Addr: raddr, Err: err} }

    e.mu.Lock()
    if e.ln == nil {
        e.mu.Unlock()
        _ = out.Close()
        return transport.ErrClosed
    }
    old := e.out
    e.out = out
    e.mu.Unlock()
    if old != nil { _ = old.Close() }
    zap.L().Debug("outbound sender redialed", zap.String("addr", raddr))
    return nil
}

// SendTo writes m to an explicit address through mgr.
func (e *Endpoint) SendTo(ctx context.Context, mgr *transport.Manager, address string, m osc.Message) error {
    e.mu.Lock()
    codec, shaper := e.codec, e.shaper
    e.mu.Unlock()
    b, err := e.encode(codec, m)
    if err != nil { return err }
    e.shape(shaper, len(b))
    if err := mgr.Send(ctx, address, b); err != nil { return err }
    e.sent.Add(1)
    return nil
}

func (e *Endpoint) encode(codec osc.Codec, m osc.Message) ([]byte, error) {
    b, err := codec.Encode(m)
    if err != nil { return nil, err }
    if e.opts.CheckSize != nil {
        if err := e.opts.CheckSize(len(b)); err != nil { return nil, err }
    }
    return b, nil
}

func (e *Endpoint) shape(tb *priocq.TokenBucket, n int) {
    if tb == nil { return }
    _ = tb.Wait(context.Background(), int64(n))
}

// Receive waits up to timeout for the next decoded message.
func (e *Endpoint) Receive(timeout time.Duration) (Inbound, bool) {
    t := time.NewTimer(timeout)
    defer t.Stop()
    select {
    case in := <-e.inbox:
        return in, true
    case <-t.C:
        return Inbound{}, false
    }
}

// Inbox exposes decoded messages for a consumer goroutine. It is never closed.
func (e *Endpoint) Inbox() <-chan Inbound { return e.inbox }

// Stats returns sent, received and dropped packet counts.
func (e *Endpoint) Stats() (sent, received, dropped uint64) {
    return e.sent.Load(), e.received.Load(), e.dropped.Load()
}

// Close stops the receive loop and releases both sockets. It is idempotent.
func (e *Endpoint) Close() error {
    e.mu.Lock()
    ln, out, cancel, done := e.ln, e.out, e.cancel, e.done
    e.ln, e.out, e.cancel, e.done, e.port = nil, nil, nil, nil, 0
    e.mu.Unlock()
    if ln == nil { return nil }
    e.closing.Store(true)
    cancel()
    err := ln.Close()
    if out != nil {
        if cerr := out.Close(); err == nil { err = cerr }
    }
    <-done
    zap.L().Info("endpoint closed", zap.String("addr", ln.Addr().String()))
    return err
}

func (e *Endpoint) recvLoop(ctx context.Context, ln transport.Listener, done chan struct{}) {
    defer close(done)
    for {
        pkt, err := ln.Recv(ctx)
        if err != nil {
            if ctx.Err() != nil || e.closing.Load() { return }
            te := &transport.TransportError{Op: "receive", Addr: ln.Addr().String(), Err: err}
            zap.L().Error("receive loop stopped", zap.Error(te))
            e.report(te)
            if e.opts.OnReceiveFailure != nil { e.opts.OnReceiveFailure(te) }
            return
        }
        m, err := e.currentCodec().Decode(pkt.Data)
        if err != nil {
            e.dropped.Add(1)
            zap.L().Debug("dropping malformed packet", zap.Stringer("from", pkt.From), zap.Error(err))
            e.report(err)
            continue
        }
        e.received.Add(1)
        select {
        case e.inbox <- Inbound{Message: m, From: pkt.From, Size: len(pkt.Data), ReceivedAt: pkt.ReceivedAt}:
        default:
            e.dropped.Add(1)
            zap.L().Warn("inbox full, dropping message", zap.String("address", m.Address))
            e.report(fmt.Errorf("inbox full: dropped %s", m.Address))
        }
    }
}

func (e *Endpoint) currentCodec() osc.Codec {
    e.mu.Lock(); defer e.mu.Unlock()
    return e.codec
}

func (e *Endpoint) report(err error) {
    if e.opts.OnError != nil && !errors.Is(err, context.Canceled) { e.opts.OnError(err) }
}
