// Package router holds the component registry and the priority queue, and
// turns route requests into dispatched boundary messages.
package router

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "mcpbridge/pkg/core/priocq"
    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/pipeline"
    "mcpbridge/pkg/protocol"
    "mcpbridge/pkg/registry"
)

var (
    ErrInvalidChannel = protocol.ErrInvalidChannel
    ErrEmptyCommand   = errors.New("router: empty command")
    ErrNotRunning     = errors.New("router: not running")
)

// RouteError wraps a route or dispatch failure.
type RouteError struct {
    Op  string // route, dispatch
    Err error
}

func (e *RouteError) Error() string { return "router " + e.Op + ": " + e.Err.Error() }
func (e *RouteError) Unwrap() error { return e.Err }

// Boundary receives flattened messages on dispatch.
type Boundary interface {
    Forward(ctx context.Context, m osc.Message) error
}

// BoundaryFunc adapts a function to Boundary.
type BoundaryFunc func(ctx context.Context, m osc.Message) error

func (f BoundaryFunc) Forward(ctx context.Context, m osc.Message) error { return f(ctx, m) }

// Options configures a Router.
type Options struct {
    QueueSize       int
    Root            string // address root for dispatch output, e.g. "/mcp"
    RoutingStrategy string
    Debug           bool
    Pool            pipeline.Options
    Services        []string
    Now             func() time.Time
}

// Router validates and enqueues messages and dispatches them from the worker
// pool to the boundary.
type Router struct {
    reg      *registry.Store
    q        *priocq.Queue[*Message]
    pool     *pipeline.Pool[*Message]
    boundary Boundary
    opts     Options
    seq      atomic.Uint64
    running  atomic.Bool

    svcMu    sync.RWMutex
    services map[string]bool

    routed   atomic.Uint64
    rejected atomic.Uint64
    evicted  atomic.Uint64
}

// New constructs the router with its queue. Failure to allocate the queue
// is the only construction error.
func New(reg *registry.Store, boundary Boundary, opts Options) (*Router, error) {
    if opts.QueueSize <= 0 { opts.QueueSize = 100 }
    if opts.Root == "" { opts.Root = "/mcp" }
    opts.Root = "/" + strings.Trim(opts.Root, "/")
    if opts.RoutingStrategy == "" { opts.RoutingStrategy = "priority" }
    if opts.Now == nil { opts.Now = time.Now }
    if opts.Services == nil { opts.Services = []string{"max_api", "state_sync", "context_manager"} }
    q, err := priocq.New[*Message](opts.QueueSize)
    if err != nil { return nil, fmt.Errorf("router: create queue: %w", err) }
    if reg == nil { reg = registry.NewDefaultStore() }
    r := &Router{reg: reg, q: q, boundary: boundary, opts: opts, services: make(map[string]bool)}
    for _, s := range opts.Services { r.services[s] = false }
    r.pool = pipeline.New(q, r.Dispatch, opts.Pool)
    return r, nil
}

// Registry exposes the component table.
func (r *Router) Registry() *registry.Store { return r.reg }

// Root returns the normalized address root.
func (r *Router) Root() string { return r.opts.Root }

// Start launches the worker pool.
func (r *Router) Start() {
    r.running.Store(true)
    r.pool.Start()
}

// Stop stops the queue and joins the workers. Queued messages are dropped.
func (r *Router) Stop() {
    r.running.Store(false)
    r.pool.Stop()
}

// RegisterComponent adds or replaces a component.
func (r *Router) RegisterComponent(name string, ch protocol.Channel, capabilities string) error {
    return r.reg.Register(name, ch, capabilities)
}

// Route validates the request and enqueues it. A full queue with a
// higher-or-equal priority minimum returns priocq.ErrQueueRejected.
func (r *Router) Route(src, dst protocol.Channel, command string, args []osc.Arg, priority int) error {
    return r.Enqueue(&Message{Source: src, Destination: dst, Command: command, Args: args, Priority: priority})
}

// RouteInts is Route for callers holding raw channel numbers.
func (r *Router) RouteInts(src, dst int, command string, args []osc.Arg, priority int) error {
    s, err := protocol.ChannelOf(src)
    if err != nil { return &RouteError{Op: "route", Err: err} }
    d, err := protocol.ChannelOf(dst)
    if err != nil { return &RouteError{Op: "route", Err: err} }
    return r.Route(s, d, command, args, priority)
}

// Enqueue validates a prepared message, stamps it and queues it.
func (r *Router) Enqueue(m *Message) error {
    if err := validate(m); err != nil { return &RouteError{Op: "route", Err: err} }
    if !r.running.Load() { return &RouteError{Op: "route", Err: ErrNotRunning} }
    m.ID = r.seq.Add(1)
    if m.CreatedAt.IsZero() { m.CreatedAt = r.opts.Now() }
    evicted, err := r.q.Enqueue(m, m.Priority)
    if err != nil {
        r.rejected.Add(1)
        zap.L().Warn("route rejected", zap.String("command", m.Command), zap.Int("priority", m.Priority), zap.Error(err))
        return &RouteError{Op: "route", Err: err}
    }
    if evicted != nil {
        r.evicted.Add(1)
        zap.L().Info("queue evicted message", zap.String("command", (*evicted).Command), zap.Int("priority", (*evicted).Priority), zap.Int("for_priority", m.Priority))
    }
    r.routed.Add(1)
    if r.opts.Debug {
        zap.L().Debug("routed", zap.Uint64("id", m.ID), zap.Stringer("src", m.Source), zap.Stringer("dst", m.Destination), zap.String("command", m.Command))
    }
    return nil
}

func validate(m *Message) error {
    if !m.Source.Valid() { return fmt.Errorf("%w: source %d", ErrInvalidChannel, m.Source) }
    if !m.Destination.Valid() { return fmt.Errorf("%w: destination %d", ErrInvalidChannel, m.Destination) }
    if strings.TrimSpace(m.Command) == "" { return ErrEmptyCommand }
    return nil
}

// Dispatch is the worker callback: validate again, flatten, forward.
func (r *Router) Dispatch(ctx context.Context, m *Message) error {
    if err := validate(m); err != nil { return &RouteError{Op: "dispatch", Err: err} }
    if r.boundary == nil { return nil }
    if err := r.boundary.Forward(ctx, Flatten(m, r.opts.Root)); err != nil {
        return &RouteError{Op: "dispatch", Err: err}
    }
    return nil
}

// SetService records a collaborator's connection state.
func (r *Router) SetService(name string, up bool) {
    r.svcMu.Lock(); defer r.svcMu.Unlock()
    r.services[name] = up
}

// Services returns a copy of the service table.
func (r *Router) Services() map[string]bool {
    r.svcMu.RLock(); defer r.svcMu.RUnlock()
    out := make(map[string]bool, len(r.services))
    for k, v := range r.services { out[k] = v }
    return out
}

// QueueLen returns the number of queued messages.
func (r *Router) QueueLen() int { return r.q.Len() }

// Status returns a snapshot of router, queue and pool state. Connection
// fields are left for the owner to fill.
func (r *Router) Status() StatusSnapshot {
    processed, failed := r.pool.Totals()
    return StatusSnapshot{
        Running:         r.running.Load(),
        QueueSize:       r.q.Len(),
        MaxQueueSize:    r.q.Cap(),
        WorkerThreads:   r.pool.Size(),
        RoutingStrategy: r.opts.RoutingStrategy,
        DebugMode:       r.opts.Debug,
        Processed:       processed,
        DispatchErrors:  failed,
        Rejected:        r.rejected.Load(),
        Evicted:         r.evicted.Load(),
        Services:        r.Services(),
    }
}

// Workers returns per-worker stats.
func (r *Router) Workers() []pipeline.WorkerStats { return r.pool.Stats() }
