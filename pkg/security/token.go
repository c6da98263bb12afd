package security

import (
    "crypto/rand"
    "encoding/base64"
    "fmt"
    "sort"
    "strings"
    "time"

    "go.uber.org/zap"
)

// Token grants a client access until Expiry. An empty command set grants
// every unrestricted command.
type Token struct {
    ID       string
    Client   string
    Expiry   time.Time
    Commands map[string]struct{}
}

// Allows reports whether the token grants cmd.
func (t *Token) Allows(cmd string) bool {
    if len(t.Commands) == 0 { return true }
    _, ok := t.Commands[normCmd(cmd)]
    return ok
}

// CommandList returns the granted commands sorted.
func (t *Token) CommandList() []string { return sortedKeys(t.Commands) }

func newTokenID() (string, error) {
    var b [32]byte
    if _, err := rand.Read(b[:]); err != nil { return "", err }
    return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// GenerateToken issues a token for client. ttl <= 0 uses the configured TTL.
func (p *Policy) GenerateToken(client string, ttl time.Duration, commands ...string) (Token, error) {
    client = strings.TrimSpace(client)
    if client == "" { return Token{}, fmt.Errorf("security: token client is required") }
    id, err := newTokenID()
    if err != nil { return Token{}, fmt.Errorf("security: token entropy: %w", err) }
    set := make(map[string]struct{}, len(commands))
    for _, c := range commands {
        if c = normCmd(c); c != "" { set[c] = struct{}{} }
    }
    p.mu.Lock()
    if ttl <= 0 { ttl = p.cfg.TokenTTL }
    t := &Token{ID: id, Client: client, Expiry: p.now().Add(ttl), Commands: set}
    p.tokens[id] = t
    p.mu.Unlock()
    zap.L().Info("token issued", zap.String("client", client), zap.Time("expiry", t.Expiry), zap.Strings("commands", t.CommandList()))
    return *t, nil
}

// ValidateToken reports whether id is present and unexpired. An expired
// token is removed on the way out.
func (p *Policy) ValidateToken(id string) bool {
    p.mu.Lock(); defer p.mu.Unlock()
    _, err := p.checkToken("", id, p.now())
    return err == nil
}

// RevokeToken removes id; it reports whether the token existed.
func (p *Policy) RevokeToken(id string) bool {
    p.mu.Lock(); defer p.mu.Unlock()
    _, ok := p.tokens[id]
    delete(p.tokens, id)
    return ok
}

// Tokens lists active tokens ordered by expiry.
func (p *Policy) Tokens() []Token {
    p.mu.Lock(); defer p.mu.Unlock()
    out := make([]Token, 0, len(p.tokens))
    for _, t := range p.tokens { out = append(out, *t) }
    sort.Slice(out, func(i, j int) bool { return out[i].Expiry.Before(out[j].Expiry) })
    return out
}

func (p *Policy) checkToken(client, id string, now time.Time) (*Token, error) {
    if id == "" { return nil, &Violation{Kind: Unauthorized, Client: client, Detail: "missing token"} }
    t := p.tokens[id]
    if t == nil { return nil, &Violation{Kind: Unauthorized, Client: client, Detail: "unknown token"} }
    if !now.Before(t.Expiry) {
        delete(p.tokens, id)
        return nil, &Violation{Kind: Unauthorized, Client: client, Detail: "token expired"}
    }
    return t, nil
}
