// Package security implements the policy gate every inbound message passes:
// size, sliding-window rate, origin IP, token, restricted command and
// address-pattern checks, in that order.
package security

import (
    "fmt"
    "net"
    "sort"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"

    "mcpbridge/pkg/osc"
)

// Config is the policy's initial state.
type Config struct {
    MaxMessageSize     int
    RateLimitCount     int
    RateLimitPeriod    time.Duration
    AllowedIPs         []string
    RestrictedCommands []string
    TokenRequired      bool
    TokenTTL           time.Duration
    // AddressFilter lists allowed address patterns. Empty disables the check.
    AddressFilter []string
}

func DefaultConfig() Config {
    return Config{
        MaxMessageSize:     1 << 20,
        RateLimitCount:     100,
        RateLimitPeriod:    60 * time.Second,
        AllowedIPs:         []string{"127.0.0.1", "::1"},
        RestrictedCommands: []string{"system", "delete", "format"},
        TokenTTL:           time.Hour,
        AddressFilter:      []string{"/mcp/*", "/claude/*", "/ableton/*"},
    }
}

// Request is what a message looks like to the policy.
type Request struct {
    ClientID string
    IP       string
    Size     int
    Token    string
    Command  string
    Address  string
}

type clientState struct {
    window   []time.Time
    bytes    uint64
    messages uint64
    lastSeen time.Time
}

// ClientStats is a snapshot of one client's rate state.
type ClientStats struct {
    Client   string    `json:"client"`
    InWindow int       `json:"in_window"`
    Bytes    uint64    `json:"bytes"`
    Messages uint64    `json:"messages"`
    LastSeen time.Time `json:"last_seen"`
}

// Policy is safe for concurrent use; one mutex guards all mutable state and
// no I/O happens under it.
type Policy struct {
    mu         sync.Mutex
    cfg        Config
    allowed    map[string]struct{}
    restricted map[string]struct{}
    filters    osc.PatternSet
    tokens     map[string]*Token
    clients    map[string]*clientState
    now        func() time.Time
}

// New builds a policy; invalid address patterns fail construction.
func New(cfg Config) (*Policy, error) {
    if cfg.MaxMessageSize <= 0 { cfg.MaxMessageSize = 1 << 20 }
    if cfg.RateLimitPeriod <= 0 { cfg.RateLimitPeriod = 60 * time.Second }
    if cfg.TokenTTL <= 0 { cfg.TokenTTL = time.Hour }
    filters, err := osc.CompilePatterns(cfg.AddressFilter)
    if err != nil { return nil, fmt.Errorf("address filter: %w", err) }
    p := &Policy{
        cfg:        cfg,
        allowed:    make(map[string]struct{}),
        restricted: make(map[string]struct{}),
        filters:    filters,
        tokens:     make(map[string]*Token),
        clients:    make(map[string]*clientState),
        now:        time.Now,
    }
    for _, ip := range cfg.AllowedIPs { p.allowed[normIP(ip)] = struct{}{} }
    for _, c := range cfg.RestrictedCommands { p.restricted[normCmd(c)] = struct{}{} }
    return p, nil
}

// SetClock replaces the time source; tests only.
func (p *Policy) SetClock(now func() time.Time) {
    p.mu.Lock(); defer p.mu.Unlock()
    p.now = now
}

func normIP(s string) string {
    s = strings.TrimSpace(s)
    if ip := net.ParseIP(s); ip != nil { return ip.String() }
    return s
}

func normCmd(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// HostIP extracts the IP string from a socket address.
func HostIP(a net.Addr) string {
    if a == nil { return "" }
    switch v := a.(type) {
    case *net.UDPAddr:
        return v.IP.String()
    case *net.TCPAddr:
        return v.IP.String()
    }
    host, _, err := net.SplitHostPort(a.String())
    if err != nil { return a.String() }
    return host
}

// Validate runs every stage in order and returns the first violation.
func (p *Policy) Validate(req Request) error {
    client := req.ClientID
    if client == "" { client = req.IP }
    if client == "" { client = "anonymous" }

    p.mu.Lock()
    defer p.mu.Unlock()
    now := p.now()
    if err := p.checkSize(client, req.Size); err != nil { return p.reject(err) }
    if err := p.checkRate(client, req.Size, now); err != nil { return p.reject(err) }
    if err := p.checkOrigin(client, req.IP); err != nil { return p.reject(err) }
    var tok *Token
    if p.cfg.TokenRequired {
        t, err := p.checkToken(client, req.Token, now)
        if err != nil { return p.reject(err) }
        tok = t
    }
    if err := p.checkCommand(client, req.Command, tok); err != nil { return p.reject(err) }
    if err := p.checkAddress(client, req.Address); err != nil { return p.reject(err) }
    return nil
}

func (p *Policy) reject(err error) error {
    zap.L().Debug("security rejection", zap.Error(err))
    return err
}

// CheckSize applies only the size stage; used for outbound packets.
func (p *Policy) CheckSize(n int) error {
    p.mu.Lock(); defer p.mu.Unlock()
    return p.checkSize("", n)
}

// CheckOrigin applies only the origin stage; the HTTP gateway uses it for
// callers of the boundary operations.
func (p *Policy) CheckOrigin(ip string) error {
    p.mu.Lock(); defer p.mu.Unlock()
    if err := p.checkOrigin(ip, ip); err != nil { return p.reject(err) }
    return nil
}

func (p *Policy) checkSize(client string, n int) error {
    if n > p.cfg.MaxMessageSize {
        return &Violation{Kind: SizeExceeded, Client: client, Detail: fmt.Sprintf("%d > %d bytes", n, p.cfg.MaxMessageSize)}
    }
    return nil
}

func (p *Policy) checkRate(client string, size int, now time.Time) error {
    cs := p.clients[client]
    if cs == nil {
        cs = &clientState{}
        p.clients[client] = cs
    }
    cutoff := now.Add(-p.cfg.RateLimitPeriod)
    i := 0
    for i < len(cs.window) && !cs.window[i].After(cutoff) { i++ }
    if i > 0 { cs.window = append(cs.window[:0], cs.window[i:]...) }
    if p.cfg.RateLimitCount > 0 && len(cs.window) >= p.cfg.RateLimitCount {
        return &Violation{Kind: RateLimited, Client: client, Detail: fmt.Sprintf("%d messages in %s", len(cs.window), p.cfg.RateLimitPeriod)}
    }
    cs.window = append(cs.window, now)
    cs.bytes += uint64(size)
    cs.messages++
    cs.lastSeen = now
    return nil
}

func (p *Policy) checkOrigin(client, ip string) error {
    if _, ok := p.allowed[normIP(ip)]; !ok {
        return &Violation{Kind: OriginDenied, Client: client, Detail: "ip " + ip}
    }
    return nil
}

func (p *Policy) checkCommand(client, cmd string, tok *Token) error {
    c := normCmd(cmd)
    if c == "" { return nil }
    if _, bad := p.restricted[c]; bad {
        return &Violation{Kind: CommandRestricted, Client: client, Detail: cmd}
    }
    if tok != nil && !tok.Allows(c) {
        return &Violation{Kind: CommandRestricted, Client: client, Detail: cmd + " not granted by token"}
    }
    return nil
}

func (p *Policy) checkAddress(client, addr string) error {
    if len(p.filters) == 0 || addr == "" { return nil }
    if !p.filters.MatchAny(addr) {
        return &Violation{Kind: AddressDenied, Client: client, Detail: addr}
    }
    return nil
}

// ---- administration ----

func (p *Policy) AllowIP(ip string) {
    p.mu.Lock(); defer p.mu.Unlock()
    p.allowed[normIP(ip)] = struct{}{}
}

func (p *Policy) DenyIP(ip string) {
    p.mu.Lock(); defer p.mu.Unlock()
    delete(p.allowed, normIP(ip))
}

func (p *Policy) RestrictCommand(cmd string) {
    p.mu.Lock(); defer p.mu.Unlock()
    p.restricted[normCmd(cmd)] = struct{}{}
}

func (p *Policy) AllowCommand(cmd string) {
    p.mu.Lock(); defer p.mu.Unlock()
    delete(p.restricted, normCmd(cmd))
}

// SetAddressFilters replaces the allowed address patterns.
func (p *Policy) SetAddressFilters(patterns []string) error {
    set, err := osc.CompilePatterns(patterns)
    if err != nil { return err }
    p.mu.Lock(); defer p.mu.Unlock()
    p.filters = set
    return nil
}

func (p *Policy) SetTokenRequired(on bool) {
    p.mu.Lock(); defer p.mu.Unlock()
    p.cfg.TokenRequired = on
}

func (p *Policy) TokenRequired() bool {
    p.mu.Lock(); defer p.mu.Unlock()
    return p.cfg.TokenRequired
}

func (p *Policy) AllowedIPs() []string {
    p.mu.Lock(); defer p.mu.Unlock()
    return sortedKeys(p.allowed)
}

func (p *Policy) RestrictedCommands() []string {
    p.mu.Lock(); defer p.mu.Unlock()
    return sortedKeys(p.restricted)
}

func (p *Policy) AddressFilters() []string {
    p.mu.Lock(); defer p.mu.Unlock()
    return p.filters.Strings()
}

// ClientStats returns the rate state of one client.
func (p *Policy) ClientStats(client string) (ClientStats, bool) {
    p.mu.Lock(); defer p.mu.Unlock()
    cs := p.clients[client]
    if cs == nil { return ClientStats{}, false }
    return ClientStats{Client: client, InWindow: len(cs.window), Bytes: cs.bytes, Messages: cs.messages, LastSeen: cs.lastSeen}, true
}

// Sweep drops expired tokens and clients idle for a full rate period.
func (p *Policy) Sweep() (tokens, clients int) {
    p.mu.Lock(); defer p.mu.Unlock()
    now := p.now()
    for id, t := range p.tokens {
        if !now.Before(t.Expiry) { delete(p.tokens, id); tokens++ }
    }
    for id, cs := range p.clients {
        if now.Sub(cs.lastSeen) > p.cfg.RateLimitPeriod { delete(p.clients, id); clients++ }
    }
    return tokens, clients
}

func sortedKeys(m map[string]struct{}) []string {
    out := make([]string, 0, len(m))
    for k := range m { out = append(out, k) }
    sort.Strings(out)
    return out
}
