package netstack

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "go.uber.org/zap"
)

// State is the connection lifecycle state.
type State int32

const (
    Disconnected State = iota
    Connecting
    Connected
    Error
)

func (s State) String() string {
    switch s {
    case Disconnected:
        return "disconnected"
    case Connecting:
        return "connecting"
    case Connected:
        return "connected"
    case Error:
        return "error"
    default:
        return "unknown"
    }
}

// ErrRetriesExhausted is returned once max retries have failed. The manager
// is then Disconnected until the next explicit Connect.
var ErrRetriesExhausted = errors.New("netstack: reconnect retries exhausted")

// ReconnectOptions configures the retry policy.
type ReconnectOptions struct {
    Backoff    Backoff
    MaxRetries int
    // AttemptTimeout bounds a single connect call; 0 disables.
    AttemptTimeout time.Duration
    // OnState observes every transition. It runs without the lock held.
    OnState func(from, to State)
    // Sleep replaces the backoff wait in tests.
    Sleep func(ctx context.Context, d time.Duration) error
}

// Reconnector owns the connection state and drives connect attempts with
// exponential backoff. Concurrent Connect calls share one in-flight attempt.
type Reconnector struct {
    opts       ReconnectOptions
    connect    func(ctx context.Context) error
    disconnect func() error

    mu       sync.Mutex
    state    State
    retries  int
    live     bool // connect succeeded and resources not yet torn down
    inflight chan struct{}
    cancel   context.CancelFunc
    lastErr  error
    attempts int // total connect calls, for stats
}

// NewReconnector wraps connect/disconnect. disconnect must release whatever
// connect acquired.
func NewReconnector(opts ReconnectOptions, connect func(ctx context.Context) error, disconnect func() error) *Reconnector {
    if opts.MaxRetries < 0 { opts.MaxRetries = 0 }
    if opts.Sleep == nil { opts.Sleep = sleepCtx }
    return &Reconnector{opts: opts, connect: connect, disconnect: disconnect}
}

func (r *Reconnector) State() State {
    r.mu.Lock(); defer r.mu.Unlock()
    return r.state
}

// Retries returns the retry counter of the current attempt cycle.
func (r *Reconnector) Retries() int {
    r.mu.Lock(); defer r.mu.Unlock()
    return r.retries
}

// Attempts returns the total number of connect calls made.
func (r *Reconnector) Attempts() int {
    r.mu.Lock(); defer r.mu.Unlock()
    return r.attempts
}

// LastError returns the error of the most recent cycle, nil after success.
func (r *Reconnector) LastError() error {
    r.mu.Lock(); defer r.mu.Unlock()
    return r.lastErr
}

// Delay exposes the backoff schedule.
func (r *Reconnector) Delay(n int) time.Duration { return r.opts.Backoff.Delay(n) }

// Connect establishes the connection. While another attempt is in flight it
// waits for that attempt instead of starting a second one. From Disconnected
// the retry counter is reset; from Error the retry cycle continues.
func (r *Reconnector) Connect(ctx context.Context) error {
    r.mu.Lock()
    if r.state == Connected {
        r.mu.Unlock()
        return nil
    }
    if ch := r.inflight; ch != nil {
        r.mu.Unlock()
        select {
        case <-ch:
        case <-ctx.Done():
            return ctx.Err()
        }
        return r.LastError()
    }
    retrying := r.state == Error
    if !retrying { r.retries = 0 }
    ch := make(chan struct{})
    r.inflight = ch
    runCtx, cancel := context.WithCancel(ctx)
    r.cancel = cancel
    r.mu.Unlock()

    err := r.run(runCtx, retrying)
    cancel()

    r.mu.Lock()
    r.lastErr = err
    r.inflight = nil
    r.cancel = nil
    close(ch)
    r.mu.Unlock()
    return err
}

func (r *Reconnector) run(ctx context.Context, retrying bool) error {
    var lastErr error
    if retrying { lastErr = r.LastError() }
    for {
        if retrying {
            r.mu.Lock()
            n := r.retries
            if n >= r.opts.MaxRetries {
                r.mu.Unlock()
                r.setState(Disconnected)
                if lastErr == nil { lastErr = errors.New("connection lost") }
                return fmt.Errorf("%w after %d retries: %v", ErrRetriesExhausted, n, lastErr)
            }
            r.retries++
            r.mu.Unlock()
            d := r.opts.Backoff.Next(n)
            zap.L().Info("reconnect scheduled", zap.Int("retry", n+1), zap.Int("max_retries", r.opts.MaxRetries), zap.Duration("delay", d))
            if err := r.opts.Sleep(ctx, d); err != nil {
                r.setState(Disconnected)
                return err
            }
            r.teardown()
        }

        r.setState(Connecting)
        err := r.attempt(ctx)
        if err == nil {
            r.mu.Lock()
            r.retries = 0
            r.live = true
            r.mu.Unlock()
            r.setState(Connected)
            return nil
        }
        lastErr = err
        zap.L().Warn("connect failed", zap.Error(err))
        r.setState(Error)
        if ctx.Err() != nil {
            r.setState(Disconnected)
            return ctx.Err()
        }
        retrying = true
    }
}

func (r *Reconnector) attempt(ctx context.Context) error {
    r.mu.Lock(); r.attempts++; r.mu.Unlock()
    if r.opts.AttemptTimeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, r.opts.AttemptTimeout)
        defer cancel()
    }
    return r.connect(ctx)
}

// Fail reports a transport error detected on a live connection. The state
// moves Connected -> Error; the next Connect resumes the retry cycle.
func (r *Reconnector) Fail(err error) {
    r.mu.Lock()
    if r.state != Connected {
        r.mu.Unlock()
        return
    }
    r.lastErr = err
    r.mu.Unlock()
    zap.L().Warn("connection failed", zap.Error(err))
    r.setState(Error)
}

// Disconnect cancels any in-flight attempt, releases resources and moves to
// Disconnected. Repeated calls have no further side effects.
func (r *Reconnector) Disconnect() error {
    r.mu.Lock()
    ch, cancel := r.inflight, r.cancel
    r.mu.Unlock()
    if cancel != nil {
        cancel()
        <-ch
    }
    err := r.teardown()
    r.mu.Lock()
    r.retries = 0
    r.mu.Unlock()
    r.setState(Disconnected)
    return err
}

func (r *Reconnector) teardown() error {
    r.mu.Lock()
    live := r.live
    r.live = false
    r.mu.Unlock()
    if !live || r.disconnect == nil { return nil }
    return r.disconnect()
}

func (r *Reconnector) setState(to State) {
    r.mu.Lock()
    from := r.state
    r.state = to
    r.mu.Unlock()
    if from == to { return }
    zap.L().Debug("connection state", zap.String("from", from.String()), zap.String("to", to.String()))
    if r.opts.OnState != nil { r.opts.OnState(from, to) }
}
