// Package pipeline runs the worker pool that drains the priority queue into
// a dispatch callback.
package pipeline

import (
    "context"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "mcpbridge/pkg/core/priocq"
)

// Options tunes the pool. Zero values take the defaults in parentheses.
type Options struct {
    Workers        int           // (2)
    BusyTimeout    time.Duration // dequeue wait after a busy iteration (10ms)
    IdleTimeout    time.Duration // dequeue wait when idle (100ms)
    ErrorThreshold int           // consecutive errors before throttling (5)
    ThrottleStep   time.Duration // sleep per consecutive error past the threshold (50ms)
    // OnError receives every dispatch failure. It must not block for long.
    OnError func(*DispatchError)
}

func (o *Options) defaults() {
    if o.Workers <= 0 { o.Workers = 2 }
    if o.BusyTimeout <= 0 { o.BusyTimeout = 10 * time.Millisecond }
    if o.IdleTimeout <= 0 { o.IdleTimeout = 100 * time.Millisecond }
    if o.ErrorThreshold <= 0 { o.ErrorThreshold = 5 }
    if o.ThrottleStep <= 0 { o.ThrottleStep = 50 * time.Millisecond }
}

// DispatchError wraps a failure (or recovered panic) of one dispatch call.
type DispatchError struct {
    Worker      int
    Consecutive int
    Err         error
}

func (e *DispatchError) Error() string {
    return fmt.Sprintf("worker %d dispatch failed (%d consecutive): %v", e.Worker, e.Consecutive, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// WorkerStats is a per-worker snapshot.
type WorkerStats struct {
    Worker      int    `json:"worker"`
    Processed   uint64 `json:"processed"`
    Failed      uint64 `json:"failed"`
    Throttles   uint64 `json:"throttles"`
    Consecutive int64  `json:"consecutive_errors"`
}

type workerState struct {
    processed   atomic.Uint64
    failed      atomic.Uint64
    throttles   atomic.Uint64
    consecutive atomic.Int64
}

// Pool is a fixed set of workers draining one queue.
type Pool[T any] struct {
    q        *priocq.Queue[T]
    dispatch func(context.Context, T) error
    opts     Options

    ctx     context.Context
    cancel  context.CancelFunc
    wg      sync.WaitGroup
    once    sync.Once
    stopped sync.Once
    running atomic.Bool
    workers []*workerState
}

// New builds a pool; call Start to launch the workers.
func New[T any](q *priocq.Queue[T], dispatch func(context.Context, T) error, opts Options) *Pool[T] {
    opts.defaults()
    ctx, cancel := context.WithCancel(context.Background())
    p := &Pool[T]{q: q, dispatch: dispatch, opts: opts, ctx: ctx, cancel: cancel}
    for i := 0; i < opts.Workers; i++ { p.workers = append(p.workers, &workerState{}) }
    return p
}

// Start launches the workers once.
func (p *Pool[T]) Start() {
    p.once.Do(func() {
        p.running.Store(true)
        for i := range p.workers {
            p.wg.Add(1)
            go p.worker(i)
        }
        zap.L().Info("worker pool started", zap.Int("workers", len(p.workers)))
    })
}

// Stop stops the queue first so blocked Dequeue calls return, then waits
// for every worker.
func (p *Pool[T]) Stop() {
    p.stopped.Do(func() {
        p.q.Stop()
        p.cancel()
        p.wg.Wait()
        p.running.Store(false)
        zap.L().Info("worker pool stopped")
    })
}

func (p *Pool[T]) Running() bool { return p.running.Load() }
func (p *Pool[T]) Size() int     { return len(p.workers) }

// Stats returns per-worker counters.
func (p *Pool[T]) Stats() []WorkerStats {
    out := make([]WorkerStats, len(p.workers))
    for i, w := range p.workers {
        out[i] = WorkerStats{Worker: i, Processed: w.processed.Load(), Failed: w.failed.Load(), Throttles: w.throttles.Load(), Consecutive: w.consecutive.Load()}
    }
    return out
}

// Totals sums processed and failed across workers.
func (p *Pool[T]) Totals() (processed, failed uint64) {
    for _, w := range p.workers {
        processed += w.processed.Load()
        failed += w.failed.Load()
    }
    return processed, failed
}

func (p *Pool[T]) worker(id int) {
    defer p.wg.Done()
    st := p.workers[id]
    timeout := p.opts.IdleTimeout
    consecutive := 0
    for {
        if p.ctx.Err() != nil || p.q.Stopped() { return }
        v, ok := p.q.Dequeue(timeout)
        if !ok {
            timeout = p.opts.IdleTimeout
            continue
        }
        timeout = p.opts.BusyTimeout

        err := p.safeDispatch(v)
        if err == nil {
            consecutive = 0
            st.consecutive.Store(0)
            st.processed.Add(1)
            continue
        }
        consecutive++
        st.consecutive.Store(int64(consecutive))
        st.failed.Add(1)
        throttle := consecutive > p.opts.ErrorThreshold
        if throttle { st.throttles.Add(1) }
        de := &DispatchError{Worker: id, Consecutive: consecutive, Err: err}
        zap.L().Warn("dispatch failed", zap.Int("worker", id), zap.Int("consecutive", consecutive), zap.Error(err))
        if p.opts.OnError != nil { p.opts.OnError(de) }

        if throttle {
            d := time.Duration(consecutive) * p.opts.ThrottleStep
            zap.L().Warn("worker throttling", zap.Int("worker", id), zap.Duration("sleep", d))
            t := time.NewTimer(d)
            select {
            case <-p.ctx.Done():
                t.Stop()
                return
            case <-t.C:
            }
        }
    }
}

func (p *Pool[T]) safeDispatch(v T) (err error) {
    defer func() {
        if r := recover(); r != nil { err = fmt.Errorf("dispatch panic: %v", r) }
    }()
    return p.dispatch(p.ctx, v)
}
