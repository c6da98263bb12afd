package security

import (
    "errors"
    "strings"
    "testing"
    "time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newPolicy(t *testing.T, mut func(*Config)) (*Policy, *clock) {
    t.Helper()
    cfg := DefaultConfig()
    if mut != nil { mut(&cfg) }
    p, err := New(cfg)
    if err != nil { t.Fatalf("new policy: %v", err) }
    c := &clock{t: time.Unix(1_700_000_000, 0)}
    p.SetClock(c.now)
    return p, c
}

func okReq() Request {
    return Request{ClientID: "c1", IP: "127.0.0.1", Size: 10, Command: "play", Address: "/mcp/play"}
}

func TestSizeLimitInclusive(t *testing.T) {
    p, _ := newPolicy(t, nil)
    r := okReq()
    r.Size = 1 << 20
    if err := p.Validate(r); err != nil { t.Fatalf("exact limit rejected: %v", err) }
    r.Size = 1<<20 + 1
    if err := p.Validate(r); !errors.Is(err, ErrSizeExceeded) { t.Fatalf("err = %v", err) }
    if err := p.CheckSize(1<<20 + 1); KindOf(err) != SizeExceeded { t.Fatalf("CheckSize kind = %v", KindOf(err)) }
}

func TestRateLimitSlidingWindow(t *testing.T) {
    p, c := newPolicy(t, nil)
    for i := 0; i < 100; i++ {
        if err := p.Validate(okReq()); err != nil { t.Fatalf("message %d: %v", i, err) }
        c.advance(5 * time.Millisecond)
    }
    if err := p.Validate(okReq()); !errors.Is(err, ErrRateLimited) { t.Fatalf("101st: %v", err) }
    other := okReq()
    other.ClientID = "c2"
    if err := p.Validate(other); err != nil { t.Fatalf("other client limited: %v", err) }

    c.advance(60 * time.Second)
    if err := p.Validate(okReq()); err != nil { t.Fatalf("after window: %v", err) }
    st, ok := p.ClientStats("c1")
    if !ok || st.Messages != 101 || st.Bytes != 1010 { t.Fatalf("stats = %+v", st) }
}

func TestOriginCheck(t *testing.T) {
    p, _ := newPolicy(t, nil)
    r := okReq()
    r.IP = "10.0.0.5"
    if err := p.Validate(r); !errors.Is(err, ErrOriginDenied) { t.Fatalf("err = %v", err) }
    p.AllowIP("10.0.0.5")
    if err := p.Validate(r); err != nil { t.Fatalf("after allow: %v", err) }
    p.DenyIP("10.0.0.5")
    if err := p.Validate(r); !errors.Is(err, ErrOriginDenied) { t.Fatalf("after deny: %v", err) }
    r.IP = "::1"
    if err := p.Validate(r); err != nil { t.Fatalf("ipv6 loopback: %v", err) }
}

func TestTokenLifecycle(t *testing.T) {
    p, c := newPolicy(t, func(cfg *Config) { cfg.TokenRequired = true })
    r := okReq()
    if err := p.Validate(r); !errors.Is(err, ErrUnauthorized) { t.Fatalf("missing token: %v", err) }

    tok, err := p.GenerateToken("c1", time.Minute)
    if err != nil { t.Fatalf("generate: %v", err) }
    if len(tok.ID) < 40 { t.Fatalf("token too short: %q", tok.ID) }
    r.Token = tok.ID
    if err := p.Validate(r); err != nil { t.Fatalf("valid token: %v", err) }

    c.advance(time.Minute)
    if err := p.Validate(r); !errors.Is(err, ErrUnauthorized) { t.Fatalf("expired: %v", err) }
    if len(p.Tokens()) != 0 { t.Fatalf("expired token not removed") }

    tok2, _ := p.GenerateToken("c1", 0)
    if !p.ValidateToken(tok2.ID) { t.Fatalf("default ttl token invalid") }
    if !p.RevokeToken(tok2.ID) || p.ValidateToken(tok2.ID) { t.Fatalf("revoke failed") }
}

func TestTokenCommandGrant(t *testing.T) {
    p, _ := newPolicy(t, func(cfg *Config) { cfg.TokenRequired = true })
    tok, _ := p.GenerateToken("c1", time.Hour, "Play")
    r := okReq()
    r.Token = tok.ID
    if err := p.Validate(r); err != nil { t.Fatalf("granted command: %v", err) }
    r.Command = "stop"
    if err := p.Validate(r); !errors.Is(err, ErrCommandRestricted) { t.Fatalf("ungranted: %v", err) }
}

func TestRestrictedCommands(t *testing.T) {
    p, _ := newPolicy(t, nil)
    r := okReq()
    r.Command = "DELETE"
    if err := p.Validate(r); !errors.Is(err, ErrCommandRestricted) { t.Fatalf("err = %v", err) }
    p.AllowCommand("delete")
    if err := p.Validate(r); err != nil { t.Fatalf("after allow: %v", err) }
    p.RestrictCommand("play")
    if err := p.Validate(okReq()); KindOf(err) != CommandRestricted { t.Fatalf("err = %v", err) }
}

func TestAddressFilter(t *testing.T) {
    p, _ := newPolicy(t, nil)
    r := okReq()
    r.Address = "/other/x"
    if err := p.Validate(r); !errors.Is(err, ErrAddressDenied) { t.Fatalf("err = %v", err) }
    r.Address = "/claude/ping"
    if err := p.Validate(r); err != nil { t.Fatalf("claude: %v", err) }
    if err := p.SetAddressFilters([]string{"/{a,b}/?"}); err != nil { t.Fatalf("set filters: %v", err) }
    r.Address = "/b/x"
    if err := p.Validate(r); err != nil { t.Fatalf("alternation: %v", err) }
}

func TestStageOrderShortCircuits(t *testing.T) {
    p, _ := newPolicy(t, nil)
    r := Request{ClientID: "x", IP: "8.8.8.8", Size: 2 << 20, Command: "system", Address: "/nope"}
    if KindOf(p.Validate(r)) != SizeExceeded { t.Fatalf("size must be checked first") }
    r.Size = 1
    if KindOf(p.Validate(r)) != OriginDenied { t.Fatalf("origin before command") }
    r.IP = "127.0.0.1"
    if KindOf(p.Validate(r)) != CommandRestricted { t.Fatalf("command before address") }
}

func TestViolationMessage(t *testing.T) {
    v := &Violation{Kind: RateLimited, Client: "c9", Detail: "100 messages"}
    if !strings.Contains(v.Error(), "c9") || !errors.Is(v, ErrRateLimited) { t.Fatalf("violation = %v", v) }
}

func TestSweep(t *testing.T) {
    p, c := newPolicy(t, nil)
    _ = p.Validate(okReq())
    _, _ = p.GenerateToken("c1", time.Second)
    c.advance(2 * time.Minute)
    toks, clients := p.Sweep()
    if toks != 1 || clients != 1 { t.Fatalf("sweep = %d tokens, %d clients", toks, clients) }
}

func TestInvalidFilterFailsConstruction(t *testing.T) {
    cfg := DefaultConfig()
    cfg.AddressFilter = []string{"no-slash"}
    if _, err := New(cfg); err == nil { t.Fatalf("expected error") }
}
