package pipeline

import (
    "context"
    "errors"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "mcpbridge/pkg/core/priocq"
)

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(d)
    for !cond() {
        if time.Now().After(deadline) { t.Fatalf("condition not met within %v", d) }
        time.Sleep(2 * time.Millisecond)
    }
}

func TestPoolDispatchesInPriorityOrder(t *testing.T) {
    q, _ := priocq.New[int](10)
    for _, p := range []int{1, 5, 3} { _, _ = q.Enqueue(p, p) }
    var mu sync.Mutex
    var got []int
    pool := New(q, func(_ context.Context, v int) error {
        mu.Lock(); got = append(got, v); mu.Unlock()
        return nil
    }, Options{Workers: 1})
    pool.Start()
    defer pool.Stop()
    waitFor(t, time.Second, func() bool { mu.Lock(); defer mu.Unlock(); return len(got) == 3 })
    if got[0] != 5 || got[1] != 3 || got[2] != 1 { t.Fatalf("order = %v", got) }
    if p, f := pool.Totals(); p != 3 || f != 0 { t.Fatalf("totals = %d/%d", p, f) }
}

func TestPoolReportsErrorsAndThrottles(t *testing.T) {
    q, _ := priocq.New[int](100)
    var reported atomic.Int32
    boom := errors.New("boom")
    pool := New(q, func(context.Context, int) error { return boom }, Options{
        Workers: 1, ErrorThreshold: 2, ThrottleStep: time.Millisecond,
        OnError: func(de *DispatchError) {
            if errors.Is(de, boom) { reported.Add(1) }
        },
    })
    pool.Start()
    defer pool.Stop()
    for i := 0; i < 4; i++ { _, _ = q.Enqueue(i, 0) }
    waitFor(t, time.Second, func() bool { return reported.Load() == 4 })
    st := pool.Stats()[0]
    if st.Failed != 4 || st.Throttles != 2 || st.Consecutive != 4 { t.Fatalf("stats = %+v", st) }
}

func TestPoolSuccessResetsCounter(t *testing.T) {
    q, _ := priocq.New[int](10)
    pool := New(q, func(_ context.Context, v int) error {
        if v < 0 { return errors.New("bad") }
        return nil
    }, Options{Workers: 1})
    pool.Start()
    defer pool.Stop()
    _, _ = q.Enqueue(-1, 9)
    _, _ = q.Enqueue(-1, 8)
    _, _ = q.Enqueue(1, 7)
    waitFor(t, time.Second, func() bool { p, _ := pool.Totals(); return p == 1 })
    if c := pool.Stats()[0].Consecutive; c != 0 { t.Fatalf("consecutive = %d", c) }
}

func TestPoolRecoversPanics(t *testing.T) {
    q, _ := priocq.New[int](10)
    var errs atomic.Int32
    pool := New(q, func(context.Context, int) error { panic("kaboom") }, Options{Workers: 1, OnError: func(*DispatchError) { errs.Add(1) }})
    pool.Start()
    defer pool.Stop()
    _, _ = q.Enqueue(1, 1)
    _, _ = q.Enqueue(2, 1)
    waitFor(t, time.Second, func() bool { return errs.Load() == 2 })
}

func TestPoolStopReleasesBlockedWorkers(t *testing.T) {
    q, _ := priocq.New[int](10)
    pool := New(q, func(context.Context, int) error { return nil }, Options{Workers: 8, IdleTimeout: time.Hour})
    pool.Start()
    time.Sleep(10 * time.Millisecond)
    done := make(chan struct{})
    go func() { pool.Stop(); close(done) }()
    select {
    case <-done:
    case <-time.After(time.Second):
        t.Fatalf("stop did not release workers blocked in dequeue")
    }
    if pool.Running() { t.Fatalf("pool still running") }
    pool.Stop()
}
