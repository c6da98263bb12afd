package netstack

import (
    "context"
    "time"
)

const maxDelay = time.Duration(1<<63 - 1)

// Backoff computes retry delays as Base * 2^n, optionally with jitter.
type Backoff struct {
    Base   time.Duration
    Jitter time.Duration
}

// Delay returns the wait before retry n (n starts at 0), without jitter.
func (b Backoff) Delay(n int) time.Duration {
    if n < 0 { n = 0 }
    base := b.Base
    if base <= 0 { base = time.Second }
    d := base
    for i := 0; i < n; i++ {
        if d > maxDelay/2 { return maxDelay }
        d *= 2
    }
    return d
}

// Next returns Delay(n) plus jitter.
func (b Backoff) Next(n int) time.Duration { return withJitter(b.Delay(n), b.Jitter) }

func withJitter(d, jitter time.Duration) time.Duration {
    if jitter <= 0 { return d }
    // add random 0..jitter
    n := time.Now().UnixNano()
    j := time.Duration(n % int64(jitter))
    return d + j
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
    if d <= 0 { return ctx.Err() }
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}
