package osc

import (
    "errors"
    "testing"
)

func TestPatternMatch(t *testing.T) {
    cases := []struct {
        pattern, addr string
        want          bool
    }{
        {"/mcp/*", "/mcp/ping", true},
        {"/mcp/*", "/mcp/a/b/c", true},
        {"/mcp/*", "/claude/ping", false},
        {"/mcp/?ing", "/mcp/ping", true},
        {"/mcp/?ing", "/mcp/pping", false},
        {"/track/[0-9]/volume", "/track/3/volume", true},
        {"/track/[!0-9]/volume", "/track/3/volume", false},
        {"/{mcp,claude}/ping", "/claude/ping", true},
        {"/{mcp,claude}/ping", "/ableton/ping", false},
        {"/exact", "/exact", true},
        {"/exact", "/exact/more", false},
    }
    for _, tc := range cases {
        p, err := CompilePattern(tc.pattern)
        if err != nil { t.Fatalf("compile %q: %v", tc.pattern, err) }
        if got := p.Match(tc.addr); got != tc.want {
            t.Fatalf("%q ~ %q = %v, want %v", tc.pattern, tc.addr, got, tc.want)
        }
        if got := Match(tc.pattern, tc.addr); got != tc.want {
            t.Fatalf("Match(%q, %q) = %v", tc.pattern, tc.addr, got)
        }
    }
}

func TestPatternSet(t *testing.T) {
    set, err := CompilePatterns([]string{"/mcp/*", "/claude/*"})
    if err != nil { t.Fatalf("compile: %v", err) }
    if !set.MatchAny("/claude/x") || set.MatchAny("/other/x") { t.Fatalf("MatchAny wrong") }
    if _, err := CompilePatterns([]string{"nope"}); err == nil { t.Fatalf("expected error for rootless pattern") }
}

func TestCompilePatternRejectsBadGlob(t *testing.T) {
    _, err := CompilePattern("/mcp/[a-")
    if !errors.Is(err, ErrBadPattern) { t.Fatalf("err = %v", err) }
    if errors.Is(err, ErrUnsupportedType) { t.Fatalf("bad pattern reported as a type error: %v", err) }
}
