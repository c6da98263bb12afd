package bridge

import (
    "sync"

    "mcpbridge/pkg/osc"
)

// pendingTable correlates outstanding requests with the first inbound
// message on their reply address. Waiters on the same address are served
// in registration order.
type pendingTable struct {
    mu      sync.Mutex
    waiters map[string][]chan osc.Message
}

func newPendingTable() *pendingTable {
    return &pendingTable{waiters: make(map[string][]chan osc.Message)}
}

func (t *pendingTable) add(address string) chan osc.Message {
    ch := make(chan osc.Message, 1)
    t.mu.Lock()
    t.waiters[address] = append(t.waiters[address], ch)
    t.mu.Unlock()
    return ch
}

func (t *pendingTable) remove(address string, ch chan osc.Message) {
    t.mu.Lock()
    defer t.mu.Unlock()
    ws := t.waiters[address]
    for i, w := range ws {
        if w == ch {
            ws = append(ws[:i], ws[i+1:]...)
            break
        }
    }
    if len(ws) == 0 {
        delete(t.waiters, address)
        return
    }
    t.waiters[address] = ws
}

// resolve hands m to the oldest waiter on its address and reports whether
// one was waiting.
func (t *pendingTable) resolve(m osc.Message) bool {
    t.mu.Lock()
    defer t.mu.Unlock()
    ws := t.waiters[m.Address]
    if len(ws) == 0 { return false }
    ch := ws[0]
    if len(ws) == 1 {
        delete(t.waiters, m.Address)
    } else {
        t.waiters[m.Address] = ws[1:]
    }
    ch <- m
    return true
}

func (t *pendingTable) len() int {
    t.mu.Lock()
    defer t.mu.Unlock()
    n := 0
    for _, ws := range t.waiters {
        n += len(ws)
    }
    return n
}
