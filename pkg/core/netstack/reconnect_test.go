package netstack

import (
    "context"
    "errors"
    "sync"
    "sync/atomic"
    "testing"
    "time"
)

type fakeConn struct {
    mu        sync.Mutex
    failFirst int
    calls     int
    closes    int
    block     chan struct{}
}

func (f *fakeConn) connect(ctx context.Context) error {
    f.mu.Lock()
    f.calls++
    n := f.calls
    block := f.block
    f.mu.Unlock()
    if block != nil {
        select {
        case <-block:
        case <-ctx.Done():
            return ctx.Err()
        }
    }
    if n <= f.failFirst { return errors.New("bind refused") }
    return nil
}

func (f *fakeConn) disconnect() error {
    f.mu.Lock(); defer f.mu.Unlock()
    f.closes++
    return nil
}

func recordSleeps(out *[]time.Duration, mu *sync.Mutex) func(context.Context, time.Duration) error {
    return func(ctx context.Context, d time.Duration) error {
        mu.Lock(); *out = append(*out, d); mu.Unlock()
        return ctx.Err()
    }
}

func TestReconnectSucceedsAfterRetries(t *testing.T) {
    f := &fakeConn{failFirst: 2}
    var sleeps []time.Duration
    var mu sync.Mutex
    r := NewReconnector(ReconnectOptions{Backoff: Backoff{Base: 10 * time.Millisecond}, MaxRetries: 5, Sleep: recordSleeps(&sleeps, &mu)}, f.connect, f.disconnect)
    if err := r.Connect(context.Background()); err != nil { t.Fatalf("connect: %v", err) }
    if r.State() != Connected { t.Fatalf("state = %v", r.State()) }
    if f.calls != 3 { t.Fatalf("calls = %d", f.calls) }
    want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
    if len(sleeps) != 2 || sleeps[0] != want[0] || sleeps[1] != want[1] { t.Fatalf("sleeps = %v", sleeps) }
    if r.Retries() != 0 { t.Fatalf("retries not reset: %d", r.Retries()) }
}

func TestReconnectExhaustsThenRequiresExplicitConnect(t *testing.T) {
    f := &fakeConn{failFirst: 100}
    var sleeps []time.Duration
    var mu sync.Mutex
    var transitions []State
    r := NewReconnector(ReconnectOptions{
        Backoff:    Backoff{Base: time.Millisecond},
        MaxRetries: 3,
        Sleep:      recordSleeps(&sleeps, &mu),
        OnState:    func(_, to State) { transitions = append(transitions, to) },
    }, f.connect, f.disconnect)

    err := r.Connect(context.Background())
    if !errors.Is(err, ErrRetriesExhausted) { t.Fatalf("err = %v", err) }
    if r.State() != Disconnected { t.Fatalf("state = %v", r.State()) }
    if f.calls != 4 { t.Fatalf("calls = %d, want 1 + 3 retries", f.calls) }
    for i := 1; i < len(sleeps); i++ {
        if sleeps[i] != 2*sleeps[i-1] { t.Fatalf("backoff not doubling: %v", sleeps) }
    }
    if transitions[len(transitions)-1] != Disconnected { t.Fatalf("transitions = %v", transitions) }

    // nothing happens on its own; an explicit connect starts a fresh cycle
    time.Sleep(5 * time.Millisecond)
    if f.calls != 4 { t.Fatalf("unexpected attempt after exhaustion") }
    _ = r.Connect(context.Background())
    if f.calls != 8 { t.Fatalf("calls after explicit reconnect = %d", f.calls) }
}

func TestConcurrentConnectSharesAttempt(t *testing.T) {
    f := &fakeConn{block: make(chan struct{})}
    r := NewReconnector(ReconnectOptions{Backoff: Backoff{Base: time.Millisecond}, MaxRetries: 1}, f.connect, f.disconnect)
    var wg sync.WaitGroup
    var failures atomic.Int32
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if err := r.Connect(context.Background()); err != nil { failures.Add(1) }
        }()
    }
    deadline := time.Now().Add(time.Second)
    for r.State() != Connecting && time.Now().Before(deadline) { time.Sleep(time.Millisecond) }
    time.Sleep(10 * time.Millisecond)
    close(f.block)
    wg.Wait()
    if failures.Load() != 0 { t.Fatalf("%d callers failed", failures.Load()) }
    if f.calls != 1 { t.Fatalf("connect called %d times", f.calls) }
    if r.State() != Connected { t.Fatalf("state = %v", r.State()) }
}

func TestDisconnectIdempotent(t *testing.T) {
    f := &fakeConn{}
    r := NewReconnector(ReconnectOptions{MaxRetries: 1}, f.connect, f.disconnect)
    if err := r.Connect(context.Background()); err != nil { t.Fatalf("connect: %v", err) }
    if err := r.Disconnect(); err != nil { t.Fatalf("disconnect: %v", err) }
    if r.State() != Disconnected { t.Fatalf("state = %v", r.State()) }
    if err := r.Disconnect(); err != nil { t.Fatalf("second disconnect: %v", err) }
    if r.State() != Disconnected { t.Fatalf("state = %v", r.State()) }
    if f.closes != 1 { t.Fatalf("closes = %d", f.closes) }
}

func TestFailResumesRetryCycle(t *testing.T) {
    f := &fakeConn{}
    var sleeps []time.Duration
    var mu sync.Mutex
    r := NewReconnector(ReconnectOptions{Backoff: Backoff{Base: 5 * time.Millisecond}, MaxRetries: 2, Sleep: recordSleeps(&sleeps, &mu)}, f.connect, f.disconnect)
    if err := r.Connect(context.Background()); err != nil { t.Fatalf("connect: %v", err) }
    r.Fail(errors.New("socket gone"))
    if r.State() != Error { t.Fatalf("state = %v", r.State()) }
    if err := r.Connect(context.Background()); err != nil { t.Fatalf("reconnect: %v", err) }
    if len(sleeps) != 1 || sleeps[0] != 5*time.Millisecond { t.Fatalf("sleeps = %v", sleeps) }
    if f.closes != 1 { t.Fatalf("old connection not torn down: closes=%d", f.closes) }
}

func TestDisconnectCancelsInflight(t *testing.T) {
    f := &fakeConn{block: make(chan struct{})}
    r := NewReconnector(ReconnectOptions{MaxRetries: 3}, f.connect, f.disconnect)
    errCh := make(chan error, 1)
    go func() { errCh <- r.Connect(context.Background()) }()
    deadline := time.Now().Add(time.Second)
    for r.State() != Connecting && time.Now().Before(deadline) { time.Sleep(time.Millisecond) }
    _ = r.Disconnect()
    select {
    case err := <-errCh:
        if err == nil { t.Fatalf("expected cancellation error") }
    case <-time.After(time.Second):
        t.Fatalf("connect did not return after disconnect")
    }
    if r.State() != Disconnected { t.Fatalf("state = %v", r.State()) }
}
