// Package bridge wires the OSC endpoint, connection manager, security
// policy, priority queue and router into one orchestrator and exposes the
// boundary operations used by the host layer.
package bridge

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "mcpbridge/pkg/config"
    "mcpbridge/pkg/core/netstack"
    "mcpbridge/pkg/core/priocq"
    "mcpbridge/pkg/observability"
    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/pipeline"
    "mcpbridge/pkg/protocol"
    "mcpbridge/pkg/protocol/codec"
    "mcpbridge/pkg/registry"
    "mcpbridge/pkg/router"
    "mcpbridge/pkg/security"
    "mcpbridge/pkg/transport"
)

var (
    ErrRequestTimeout = errors.New("bridge: request timed out")
    ErrNotRunning     = errors.New("bridge: not running")
    ErrNotConnected   = errors.New("bridge: not connected")
    ErrStopped        = errors.New("bridge: stopped")
)

// sweepInterval is how often expired tokens and idle clients are pruned.
const sweepInterval = time.Minute

// Options carries dependencies that are not part of the config file.
type Options struct {
    // Transport overrides the kind named in connection.transport.
    Transport transport.Transport
    // Sleep replaces the reconnect backoff wait.
    Sleep func(ctx context.Context, d time.Duration) error
    // Now replaces the clock used by the policy and the router.
    Now func() time.Time
    // ErrorBuffer sizes the Errors channel (64).
    ErrorBuffer int
}

// Bridge is the top-level orchestrator. It is safe for concurrent use.
// A stopped bridge cannot be started again.
type Bridge struct {
    cfg      config.Config
    tr       transport.Transport
    codecs   *codec.Registry
    policy   *security.Policy
    ep       *netstack.Endpoint
    rc       *netstack.Reconnector
    router   *router.Router
    handlers *handlerTable
    pending  *pendingTable
    peers    *transport.Manager
    errs     chan error

    mu      sync.Mutex
    running atomic.Bool
    stopped bool
    ctx     context.Context
    cancel  context.CancelFunc
    wg      sync.WaitGroup

    dropped atomic.Uint64
}

// New builds every component from cfg. Only construction failures are
// returned; nothing is bound until Start.
func New(cfg *config.Config, opts Options) (*Bridge, error) {
    if cfg == nil {
        cfg = config.Default()
    }
    if opts.ErrorBuffer <= 0 {
        opts.ErrorBuffer = 64
    }
    b := &Bridge{
        cfg:      *cfg,
        handlers: newHandlerTable(),
        pending:  newPendingTable(),
        errs:     make(chan error, opts.ErrorBuffer),
    }

    tr := opts.Transport
    if tr == nil {
        var err error
        if tr, err = netstack.NewByKind(cfg.Connection.Transport, cfg.Connection.BufferSize); err != nil {
            return nil, fmt.Errorf("bridge: transport: %w", err)
        }
    }
    b.tr = tr
    b.peers = transport.NewManager(tr)

    codecs, err := codec.NewDefaultRegistry()
    if err != nil { return nil, fmt.Errorf("bridge: codecs: %w", err) }
    b.codecs = codecs

    if b.policy, err = security.New(SecurityConfig(cfg.Security)); err != nil {
        return nil, fmt.Errorf("bridge: security policy: %w", err)
    }
    if opts.Now != nil {
        b.policy.SetClock(opts.Now)
    }

    o := cfg.Orchestrator
    b.router, err = router.New(registry.NewDefaultStore(), router.BoundaryFunc(b.forward), router.Options{
        QueueSize:       o.QueueSize,
        Root:            o.AddressRoot,
        RoutingStrategy: o.RoutingStrategy,
        Debug:           o.Debug,
        Now:             opts.Now,
        Pool: pipeline.Options{
            Workers:        o.Workers,
            BusyTimeout:    ms(o.BusyTimeoutMS),
            IdleTimeout:    ms(o.IdleTimeoutMS),
            ErrorThreshold: o.ErrorThreshold,
            ThrottleStep:   ms(o.ThrottleStepMS),
            OnError:        b.onDispatchError,
        },
    })
    if err != nil { return nil, fmt.Errorf("bridge: %w", err) }

    b.ep = netstack.NewEndpoint(tr, netstack.EndpointOptions{
        OnError:          b.report,
        OnReceiveFailure: b.scheduleReconnect,
        CheckSize:        b.policy.CheckSize,
    })
    c := cfg.Connection
    b.rc = netstack.NewReconnector(netstack.ReconnectOptions{
        Backoff:    netstack.Backoff{Base: c.RetryInterval()},
        MaxRetries: c.RetryCount,
        OnState:    b.onState,
        Sleep:      opts.Sleep,
    }, b.bind, b.ep.Close)

    b.registerDefaults()
    return b, nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// SecurityConfig converts the config section to a policy config.
func SecurityConfig(s config.SecurityConfig) security.Config {
    return security.Config{
        MaxMessageSize:     s.MaxMessageSize,
        RateLimitCount:     s.RateLimitCount,
        RateLimitPeriod:    ms(s.RateLimitPeriodMS),
        AllowedIPs:         s.AllowedIPs,
        RestrictedCommands: s.RestrictedCommands,
        TokenRequired:      s.TokenRequired,
        TokenTTL:           time.Duration(s.TokenTTLS) * time.Second,
        AddressFilter:      s.AddressFilter,
    }
}

func (b *Bridge) bind(ctx context.Context) error {
    c := b.cfg.Connection
    _, err := b.ep.BindAndListen(ctx, netstack.EndpointConfig{
        Host:              c.Host,
        PortIn:            c.PortIn,
        PortOut:           c.PortOut,
        DynamicPorts:      c.DynamicPorts,
        CompatibilityMode: c.CompatibilityMode,
        PortAttempts:      c.PortAttempts,
        MaxBlobSize:       c.MaxBlobSize,
        SendRateBytes:     c.SendRateBytes,
    })
    return err
}

// Start launches the workers and the inbound loop, then connects. A connect
// failure is returned but the bridge keeps running; the state is visible in
// Status and a later Connect may succeed.
func (b *Bridge) Start(ctx context.Context) error {
    b.mu.Lock()
    if b.stopped {
        b.mu.Unlock()
        return ErrStopped
    }
    if b.running.Load() {
        b.mu.Unlock()
        return nil
    }
    b.ctx, b.cancel = context.WithCancel(context.Background())
    b.router.Start()
    b.running.Store(true)
    b.wg.Add(2)
    go b.inboundLoop(b.ctx)
    go b.sweepLoop(b.ctx)
    b.mu.Unlock()

    zap.L().Info("bridge started",
        zap.String("transport", b.tr.Kind().String()),
        zap.Int("workers", b.cfg.Orchestrator.Workers),
        zap.Int("queue_size", b.cfg.Orchestrator.QueueSize))
    return b.Connect(ctx)
}

// Stop disconnects, stops the queue and workers and joins every loop.
// Pending requests fail with ErrNotRunning. It is idempotent.
func (b *Bridge) Stop() {
    b.mu.Lock()
    if b.stopped {
        b.mu.Unlock()
        return
    }
    b.stopped = true
    wasRunning := b.running.Swap(false)
    if wasRunning {
        b.cancel()
    }
    b.mu.Unlock()
    if !wasRunning { return }
    _ = b.rc.Disconnect()
    b.router.Stop()
    b.wg.Wait()
    b.peers.CloseAll()
    zap.L().Info("bridge stopped")
}

// Running reports whether Start has been called and Stop has not.
func (b *Bridge) Running() bool { return b.running.Load() }

// Connect binds the endpoint, retrying with backoff. Concurrent calls share
// one attempt. The attempt is bounded by both ctx and the bridge lifetime.
func (b *Bridge) Connect(ctx context.Context) error {
    if !b.running.Load() { return ErrNotRunning }
    runCtx, cancel := context.WithCancel(ctx)
    defer cancel()
    stop := context.AfterFunc(b.ctx, cancel)
    defer stop()
    return b.rc.Connect(runCtx)
}

// Disconnect releases the sockets. Repeated calls are harmless.
func (b *Bridge) Disconnect() error { return b.rc.Disconnect() }

// ConnectionState returns the current connection state.
func (b *Bridge) ConnectionState() netstack.State { return b.rc.State() }

// Port returns the bound receive port, 0 when disconnected.
func (b *Bridge) Port() int { return b.ep.Port() }

// Errors delivers per-message failures: protocol errors, security
// violations, dispatch errors and handler failures. Events are dropped
// when nobody reads.
func (b *Bridge) Errors() <-chan error { return b.errs }

func (b *Bridge) report(err error) {
    if err == nil { return }
    switch {
    case osc.IsProtocolError(err):
        observability.RecordPacket("in", "malformed")
    case transport.IsTransportError(err):
        observability.RecordPacket("in", "failed")
    }
    select {
    case b.errs <- err:
    default:
        b.dropped.Add(1)
    }
}

func (b *Bridge) onDispatchError(de *pipeline.DispatchError) {
    zap.L().Warn("dispatch failed", zap.Int("worker", de.Worker), zap.Int("consecutive", de.Consecutive), zap.Error(de.Err))
    b.report(de)
}

func (b *Bridge) onState(from, to netstack.State) {
    observability.SetConnectionState(to.String())
    zap.L().Info("connection state changed", zap.Stringer("from", from), zap.Stringer("to", to))
}

// scheduleReconnect marks the connection failed and retries in the
// background when auto_reconnect is on.
func (b *Bridge) scheduleReconnect(cause error) {
    if !b.cfg.Orchestrator.AutoReconnect || !b.running.Load() { return }
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.ctx == nil || b.ctx.Err() != nil { return }
    b.rc.Fail(cause)
    b.wg.Add(1)
    go func() {
        defer b.wg.Done()
        if err := b.rc.Connect(b.ctx); err != nil && b.ctx.Err() == nil {
            zap.L().Error("auto reconnect failed", zap.Error(err))
            b.report(err)
        }
    }()
}

// Send encodes and writes a message to the configured outbound port. Only
// the size stage of the policy applies to outbound traffic.
func (b *Bridge) Send(address string, args ...osc.Arg) error {
    if !b.running.Load() { return ErrNotRunning }
    if b.rc.State() != netstack.Connected { return ErrNotConnected }
    err := b.ep.SendMessage(osc.Message{Address: address, Args: args})
    b.afterSend(err)
    return err
}

// SendTo writes a message to an explicit host:port instead of port_out.
func (b *Bridge) SendTo(ctx context.Context, addr, address string, args ...osc.Arg) error {
    if !b.running.Load() { return ErrNotRunning }
    err := b.ep.SendTo(ctx, b.peers, addr, osc.Message{Address: address, Args: args})
    if err != nil {
        observability.RecordPacket("out", "failed")
        return err
    }
    observability.RecordPacket("out", "ok")
    return nil
}

func (b *Bridge) afterSend(err error) {
    if err == nil {
        observability.RecordPacket("out", "ok")
        return
    }
    observability.RecordPacket("out", "failed")
    if !transport.IsTransportError(err) { return }
    // A refused datagram only means the peer is not listening yet.
    if transport.IsRefused(err) {
        zap.L().Debug("outbound peer refused packet", zap.Error(err))
        return
    }
    // Other send failures replace the outbound socket. The receive side is
    // torn down only when that fails too.
    ctx := b.runContext()
    if rerr := b.ep.RedialOut(ctx); rerr != nil {
        zap.L().Warn("outbound redial failed", zap.Error(rerr))
        b.scheduleReconnect(err)
    }
}

func (b *Bridge) runContext() context.Context {
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.ctx == nil { return context.Background() }
    return b.ctx
}

// SendPayload sends v as one blob argument encoded in format f.
func (b *Bridge) SendPayload(address string, f protocol.Format, v any) error {
    arg, err := protocol.PayloadArg(b.codecs, f, v)
    if err != nil { return fmt.Errorf("bridge: encode payload: %w", err) }
    return b.Send(address, arg)
}

// DecodePayload decodes a blob argument produced by SendPayload.
func (b *Bridge) DecodePayload(a osc.Arg, v any) (protocol.Format, error) {
    return protocol.DecodeArg(b.codecs, a, v)
}

// Request sends a message and waits for the first inbound message on
// replyAddress. On timeout the waiter is removed and ErrRequestTimeout is
// returned.
func (b *Bridge) Request(ctx context.Context, address string, args []osc.Arg, replyAddress string, timeout time.Duration) (osc.Message, error) {
    if !b.running.Load() { return osc.Message{}, ErrNotRunning }
    if timeout <= 0 {
        timeout = ms(b.cfg.Orchestrator.RequestTimeoutMS)
    }
    ch := b.pending.add(replyAddress)
    defer b.pending.remove(replyAddress, ch)
    if err := b.Send(address, args...); err != nil { return osc.Message{}, err }
    t := time.NewTimer(timeout)
    defer t.Stop()
    select {
    case m := <-ch:
        return m, nil
    case <-t.C:
        return osc.Message{}, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, replyAddress, timeout)
    case <-ctx.Done():
        return osc.Message{}, ctx.Err()
    case <-b.ctx.Done():
        return osc.Message{}, ErrNotRunning
    }
}

// PendingRequests returns the number of requests awaiting a reply.
func (b *Bridge) PendingRequests() int { return b.pending.len() }

// OnMessage registers h for inbound messages matching pattern. Exact
// addresses win over patterns; among patterns the first registered wins.
// Registering the same pattern again replaces its handler.
func (b *Bridge) OnMessage(pattern string, h Handler) error { return b.handlers.add(pattern, h) }

// Route validates and enqueues a command. Queue rejection is returned to the
// caller, who decides whether to retry.
func (b *Bridge) Route(src, dst protocol.Channel, command string, args []osc.Arg, priority int) error {
    err := b.router.Route(src, dst, command, args, priority)
    b.recordRoute(dst, err)
    return err
}

func (b *Bridge) recordRoute(dst protocol.Channel, err error) {
    outcome := "queued"
    switch {
    case err == nil:
    case errors.Is(err, priocq.ErrQueueRejected):
        outcome = "rejected"
    default:
        outcome = "invalid"
    }
    observability.RecordRoute(dst.String(), outcome)
    observability.SetQueueDepth(b.router.QueueLen())
}

// forward is the router boundary: dispatched messages go out as OSC.
func (b *Bridge) forward(_ context.Context, m osc.Message) error {
    err := b.Send(m.Address, m.Args...)
    dst := strings.TrimPrefix(m.Address, b.router.Root()+"/dispatch/")
    if err != nil {
        observability.RecordRoute(dst, "failed")
        return err
    }
    observability.RecordRoute(dst, "dispatched")
    return nil
}

// RegisterComponent adds or replaces a component registration.
func (b *Bridge) RegisterComponent(name string, ch protocol.Channel, capabilities string) error {
    return b.router.RegisterComponent(name, ch, capabilities)
}

// Components lists registered components by name.
func (b *Bridge) Components() []registry.Registration { return b.router.Registry().List() }

// SetService records a collaborator's connection state for Status.
func (b *Bridge) SetService(name string, up bool) { b.router.SetService(name, up) }

// Policy exposes the security policy for administration.
func (b *Bridge) Policy() *security.Policy { return b.policy }

// Status returns the orchestrator snapshot including connection fields.
func (b *Bridge) Status() router.StatusSnapshot {
    s := b.router.Status()
    s.Running = b.running.Load()
    s.ConnectionState = b.rc.State().String()
    s.BoundPort = b.ep.Port()
    s.AutoReconnect = b.cfg.Orchestrator.AutoReconnect
    observability.SetQueueDepth(s.QueueSize)
    return s
}

// Workers returns per-worker dispatch counters.
func (b *Bridge) Workers() []pipeline.WorkerStats { return b.router.Workers() }

func (b *Bridge) sweepLoop(ctx context.Context) {
    defer b.wg.Done()
    t := time.NewTicker(sweepInterval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            if tokens, clients := b.policy.Sweep(); tokens+clients > 0 {
                zap.L().Debug("policy sweep", zap.Int("tokens", tokens), zap.Int("clients", clients))
            }
        }
    }
}
