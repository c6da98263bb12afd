// Package registry keeps the component table: named endpoints mapped to
// logical channels with a capability description.
package registry

import (
    "encoding/json"
    "errors"
    "sort"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"

    "mcpbridge/pkg/protocol"
)

var (
    ErrMissingName = errors.New("registry: component name is required")
    ErrNotFound    = errors.New("registry: component not found")
)

// Registration is one component record.
type Registration struct {
    Name         string           `json:"name"`
    Channel      protocol.Channel `json:"channel"`
    Capabilities string           `json:"capabilities"`
    UpdatedAt    time.Time        `json:"updated_at"`
}

// Store is append/overwrite only; records live as long as the process.
type Store struct {
    mu    sync.RWMutex
    comps map[string]Registration
    now   func() time.Time
}

func NewStore() *Store { return &Store{comps: make(map[string]Registration), now: time.Now} }

// NewDefaultStore returns a store seeded with one component per channel.
func NewDefaultStore() *Store {
    s := NewStore()
    _ = s.Register("intelligence", protocol.Intelligence, "reasoning, planning, tool selection")
    _ = s.Register("execution", protocol.Execution, "host commands, parameter control, transport")
    _ = s.Register("interaction", protocol.Interaction, "user input, controllers, notifications")
    _ = s.Register("system", protocol.System, "status, configuration, lifecycle")
    return s
}

func normName(n string) string { return strings.ToLower(strings.TrimSpace(n)) }

// Register creates or replaces the record for name.
func (s *Store) Register(name string, ch protocol.Channel, capabilities string) error {
    n := normName(name)
    if n == "" { return ErrMissingName }
    if !ch.Valid() { return protocol.ErrInvalidChannel }
    r := Registration{Name: n, Channel: ch, Capabilities: strings.TrimSpace(capabilities), UpdatedAt: s.now()}
    s.mu.Lock()
    _, replaced := s.comps[n]
    s.comps[n] = r
    s.mu.Unlock()
    zap.L().Info("component registered", zap.String("component", n), zap.Stringer("channel", ch), zap.Bool("replaced", replaced))
    return nil
}

// Get returns the record for name.
func (s *Store) Get(name string) (Registration, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    r, ok := s.comps[normName(name)]
    if !ok { return Registration{}, ErrNotFound }
    return r, nil
}

// List returns every record sorted by name.
func (s *Store) List() []Registration {
    s.mu.RLock()
    out := make([]Registration, 0, len(s.comps))
    for _, r := range s.comps { out = append(out, r) }
    s.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out
}

// ByChannel returns the components registered on ch.
func (s *Store) ByChannel(ch protocol.Channel) []Registration {
    var out []Registration
    for _, r := range s.List() {
        if r.Channel == ch { out = append(out, r) }
    }
    return out
}

// Len returns the number of components.
func (s *Store) Len() int {
    s.mu.RLock(); defer s.mu.RUnlock()
    return len(s.comps)
}

// MarshalJSON exports the table as a sorted array.
func (s *Store) MarshalJSON() ([]byte, error) { return json.Marshal(s.List()) }
