package transport

import (
    "context"
    "sort"
    "sync"

    "go.uber.org/zap"
)

// Manager keeps at most one Sender per remote address so replies to many
// clients do not dial a fresh socket per message.
type Manager struct {
    tr      Transport
    mu      sync.RWMutex
    senders map[string]Sender
}

func NewManager(tr Transport) *Manager { return &Manager{tr: tr, senders: make(map[string]Sender)} }

// Get returns the cached sender for address, dialing one on first use.
func (m *Manager) Get(ctx context.Context, address string) (Sender, error) {
    m.mu.RLock()
    s := m.senders[address]
    m.mu.RUnlock()
    if s != nil { return s, nil }

    m.mu.Lock()
    defer m.mu.Unlock()
    if s = m.senders[address]; s != nil { return s, nil }
    s, err := m.tr.Dial(ctx, address)
    if err != nil { return nil, &TransportError{Op: "send", Addr: address, Err: err} }
    m.senders[address] = s
    zap.L().Debug("sender dialed", zap.String("kind", m.tr.Kind().String()), zap.String("addr", address))
    return s, nil
}

// Send dials (or reuses) a sender for address and writes b. A failed send
// evicts the cached sender so the next call redials.
func (m *Manager) Send(ctx context.Context, address string, b []byte) error {
    s, err := m.Get(ctx, address)
    if err != nil { return err }
    if err := s.Send(b); err != nil {
        m.Drop(address)
        return &TransportError{Op: "send", Addr: address, Err: err}
    }
    return nil
}

// Drop closes and forgets the sender for address.
func (m *Manager) Drop(address string) {
    m.mu.Lock()
    s := m.senders[address]
    delete(m.senders, address)
    m.mu.Unlock()
    if s != nil { _ = s.Close() }
}

// Addrs lists cached remote addresses in sorted order.
func (m *Manager) Addrs() []string {
    m.mu.RLock()
    out := make([]string, 0, len(m.senders))
    for a := range m.senders { out = append(out, a) }
    m.mu.RUnlock()
    sort.Strings(out)
    return out
}

// CloseAll closes every cached sender.
func (m *Manager) CloseAll() {
    m.mu.Lock()
    old := m.senders
    m.senders = make(map[string]Sender)
    m.mu.Unlock()
    for _, s := range old { _ = s.Close() }
}
