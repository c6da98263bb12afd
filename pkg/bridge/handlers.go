package bridge

import (
    "context"
    "fmt"
    "strings"
    "sync"

    "mcpbridge/pkg/osc"
)

// Handler processes one inbound message that passed the security policy.
type Handler func(ctx context.Context, m osc.Message) error

type patternHandler struct {
    pattern *osc.Pattern
    h       Handler
}

// handlerTable resolves exact addresses first, then patterns in
// registration order.
type handlerTable struct {
    mu       sync.RWMutex
    exact    map[string]Handler
    patterns []patternHandler
}

func newHandlerTable() *handlerTable {
    return &handlerTable{exact: make(map[string]Handler)}
}

func (t *handlerTable) add(pattern string, h Handler) error {
    if h == nil { return fmt.Errorf("bridge: nil handler for %q", pattern) }
    p, err := osc.CompilePattern(strings.TrimSpace(pattern))
    if err != nil { return err }
    t.mu.Lock()
    defer t.mu.Unlock()
    if p.Literal() {
        t.exact[p.String()] = h
        return nil
    }
    for i := range t.patterns {
        if t.patterns[i].pattern.String() == p.String() {
            t.patterns[i].h = h
            return nil
        }
    }
    t.patterns = append(t.patterns, patternHandler{pattern: p, h: h})
    return nil
}

func (t *handlerTable) lookup(address string) (Handler, bool) {
    t.mu.RLock()
    defer t.mu.RUnlock()
    if h, ok := t.exact[address]; ok { return h, true }
    for _, ph := range t.patterns {
        if ph.pattern.Match(address) { return ph.h, true }
    }
    return nil, false
}

// registerDefaults installs the built-in ping, status and host-forwarding
// handlers.
func (b *Bridge) registerDefaults() {
    must := func(err error) {
        if err != nil {
            panic(err)
        }
    }
    must(b.handlers.add("/mcp/ping", b.pong("/mcp/pong")))
    must(b.handlers.add("/claude/ping", b.pong("/claude/pong")))
    must(b.handlers.add("/mcp/status", b.statusReply("/mcp/status/reply")))
    must(b.handlers.add("/claude/get_status", b.statusReply("/claude/status/reply")))
    must(b.handlers.add("/claude/ableton_command", func(_ context.Context, m osc.Message) error {
        return b.Send("/ableton/command", m.Args...)
    }))
    must(b.handlers.add("/claude/*", func(_ context.Context, m osc.Message) error {
        cmd := strings.TrimPrefix(m.Address, "/claude/")
        return b.Send("/claude/error", osc.String("unknown_claude_command"), osc.String(cmd))
    }))
}

func (b *Bridge) pong(reply string) Handler {
    return func(_ context.Context, m osc.Message) error {
        return b.Send(reply, m.Args...)
    }
}

func (b *Bridge) statusReply(reply string) Handler {
    return func(context.Context, osc.Message) error {
        return b.Send(reply, pairArgs(b.Status().Pairs())...)
    }
}

// pairArgs converts status values to OSC arguments; values that do not fit
// an argument type travel as their string form.
func pairArgs(pairs []any) []osc.Arg {
    out := make([]osc.Arg, 0, len(pairs))
    for _, v := range pairs {
        a, err := osc.ArgOf(v)
        if err != nil {
            a = osc.String(fmt.Sprint(v))
        }
        out = append(out, a)
    }
    return out
}
