package priocq

import (
    "context"
    "sync"
    "time"
)

// TokenBucket shapes outbound bytes: rate tokens per second up to capacity.
type TokenBucket struct {
    mu       sync.Mutex
    capacity int64
    tokens   int64
    rate     int64 // tokens per second
    last     time.Time
    now      func() time.Time
}

func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
    if ratePerSec <= 0 { ratePerSec = 1 }
    if capacity <= 0 { capacity = ratePerSec }
    return &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, last: time.Now(), now: time.Now}
}

// Allow tries to consume n tokens; if not enough, returns duration to wait.
// A request larger than capacity is let through once the bucket is full.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
    b.mu.Lock(); defer b.mu.Unlock()
    now := b.now()
    if dt := now.Sub(b.last); dt > 0 {
        add := (b.rate * dt.Nanoseconds()) / int64(time.Second)
        if add > 0 {
            b.tokens += add
            if b.tokens > b.capacity { b.tokens = b.capacity }
            b.last = now
        }
    }
    if n > b.capacity && b.tokens == b.capacity {
        b.tokens = 0
        return true, 0
    }
    if b.tokens >= n {
        b.tokens -= n
        return true, 0
    }
    need := n - b.tokens
    if n > b.capacity { need = b.capacity - b.tokens }
    nanos := (need * int64(time.Second)) / b.rate
    if nanos <= 0 { nanos = 1 }
    return false, time.Duration(nanos)
}

// Wait blocks until n tokens are available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context, n int64) error {
    for {
        ok, wait := b.Allow(n)
        if ok { return nil }
        t := time.NewTimer(wait)
        select {
        case <-ctx.Done():
            t.Stop()
            return ctx.Err()
        case <-t.C:
        }
    }
}
