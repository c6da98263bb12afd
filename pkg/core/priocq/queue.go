// Package priocq provides the bounded priority queue drained by the worker
// pool and the token bucket used to shape outbound traffic.
package priocq

import (
    "container/heap"
    "errors"
    "sync"
    "time"
)

var (
    // ErrQueueRejected is returned when the queue is full and the incoming
    // priority does not beat the current minimum.
    ErrQueueRejected = errors.New("priocq: queue full, priority too low")
    // ErrQueueStopped is returned by Enqueue after Stop.
    ErrQueueStopped = errors.New("priocq: queue stopped")
)

type item[T any] struct {
    v    T
    prio int
    seq  uint64
}

// itemHeap is a max-heap on priority, FIFO within a priority.
type itemHeap[T any] []item[T]

func (h itemHeap[T]) Len() int { return len(h) }
func (h itemHeap[T]) Less(i, j int) bool {
    if h[i].prio != h[j].prio { return h[i].prio > h[j].prio }
    return h[i].seq < h[j].seq
}
func (h itemHeap[T]) Swap(i, j int)  { h[i], h[j] = h[j], h[i] }
func (h *itemHeap[T]) Push(x any)   { *h = append(*h, x.(item[T])) }
func (h *itemHeap[T]) Pop() any {
    old := *h
    n := len(old)
    x := old[n-1]
    var zero item[T]
    old[n-1] = zero
    *h = old[:n-1]
    return x
}

// Queue is a bounded priority queue. Dequeue order is priority descending,
// then insertion order. One mutex guards the contents.
type Queue[T any] struct {
    mu      sync.Mutex
    h       itemHeap[T]
    max     int
    seq     uint64
    stopped bool
    // wake is closed and replaced whenever an item arrives or the queue stops.
    wake chan struct{}

    evicted  uint64
    rejected uint64
}

// New returns a queue holding at most maxSize items.
func New[T any](maxSize int) (*Queue[T], error) {
    if maxSize <= 0 { return nil, errors.New("priocq: max size must be positive") }
    return &Queue[T]{h: make(itemHeap[T], 0, maxSize), max: maxSize, wake: make(chan struct{})}, nil
}

// Enqueue admits v. When full, the lowest-priority element (the newest among
// equals) is evicted only if prio is strictly greater; otherwise v is rejected.
// The evicted value, if any, is returned so callers can account for it.
func (q *Queue[T]) Enqueue(v T, prio int) (evicted *T, err error) {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.stopped { return nil, ErrQueueStopped }
    if len(q.h) >= q.max {
        mi := q.minIndex()
        if prio <= q.h[mi].prio {
            q.rejected++
            return nil, ErrQueueRejected
        }
        old := heap.Remove(&q.h, mi).(item[T])
        q.evicted++
        evicted = &old.v
    }
    q.seq++
    heap.Push(&q.h, item[T]{v: v, prio: prio, seq: q.seq})
    q.signal()
    return evicted, nil
}

// minIndex scans for the element that would be dequeued last.
func (q *Queue[T]) minIndex() int {
    mi := 0
    for i := 1; i < len(q.h); i++ {
        if q.h.Less(mi, i) { mi = i }
    }
    return mi
}

func (q *Queue[T]) signal() {
    close(q.wake)
    q.wake = make(chan struct{})
}

// Dequeue waits up to timeout for the highest-priority item. It returns
// false on timeout or once the queue is stopped.
func (q *Queue[T]) Dequeue(timeout time.Duration) (T, bool) {
    var zero T
    var timer *time.Timer
    for {
        q.mu.Lock()
        if q.stopped {
            q.mu.Unlock()
            return zero, false
        }
        if len(q.h) > 0 {
            it := heap.Pop(&q.h).(item[T])
            q.mu.Unlock()
            if timer != nil { timer.Stop() }
            return it.v, true
        }
        wake := q.wake
        q.mu.Unlock()

        if timer == nil {
            if timeout <= 0 { return zero, false }
            timer = time.NewTimer(timeout)
        }
        select {
        case <-wake:
        case <-timer.C:
            return zero, false
        }
    }
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
    q.mu.Lock(); defer q.mu.Unlock()
    return len(q.h)
}

// Cap returns the maximum size.
func (q *Queue[T]) Cap() int { return q.max }

// Priorities returns the queued priorities in dequeue order.
func (q *Queue[T]) Priorities() []int {
    q.mu.Lock()
    cp := make(itemHeap[T], len(q.h))
    copy(cp, q.h)
    q.mu.Unlock()
    out := make([]int, 0, len(cp))
    for cp.Len() > 0 { out = append(out, heap.Pop(&cp).(item[T]).prio) }
    return out
}

// Stop wakes every blocked Dequeue and makes later Enqueue calls fail.
// Queued items are discarded.
func (q *Queue[T]) Stop() {
    q.mu.Lock(); defer q.mu.Unlock()
    if q.stopped { return }
    q.stopped = true
    q.h = nil
    q.signal()
}

// Stopped reports whether Stop was called.
func (q *Queue[T]) Stopped() bool {
    q.mu.Lock(); defer q.mu.Unlock()
    return q.stopped
}

// Stats returns the eviction and rejection counters.
func (q *Queue[T]) Stats() (evicted, rejected uint64) {
    q.mu.Lock(); defer q.mu.Unlock()
    return q.evicted, q.rejected
}
