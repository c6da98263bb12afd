package osc

import (
    "strings"
    "sync"

    "github.com/gobwas/glob"
)

const patternMeta = "*?[]{}"

// Pattern is a compiled address pattern. '*' matches any run of characters
// including '/', '?' one character, '[...]' a class ('!' negates) and
// '{a,b}' an alternation.
type Pattern struct {
    raw     string
    g       glob.Glob
    literal bool
}

// CompilePattern compiles p. Patterns without metacharacters compare by
// equality.
func CompilePattern(p string) (*Pattern, error) {
    if err := ValidateAddress(p); err != nil { return nil, err }
    if !strings.ContainsAny(p, patternMeta) {
        return &Pattern{raw: p, literal: true}, nil
    }
    g, err := glob.Compile(p)
    if err != nil { return nil, protoErr(p, ErrBadPattern, err.Error()) }
    return &Pattern{raw: p, g: g}, nil
}

// MustCompilePattern panics on an invalid pattern.
func MustCompilePattern(p string) *Pattern {
    pt, err := CompilePattern(p)
    if err != nil { panic(err) }
    return pt
}

func (p *Pattern) String() string { return p.raw }

// Literal reports whether the pattern has no wildcards.
func (p *Pattern) Literal() bool { return p.literal }

// Match reports whether addr matches the pattern.
func (p *Pattern) Match(addr string) bool {
    if p.literal { return p.raw == addr }
    return p.g.Match(addr)
}

var patternCache sync.Map // string -> *Pattern

// Match compiles pattern (cached) and matches addr. Invalid patterns never match.
func Match(pattern, addr string) bool {
    if v, ok := patternCache.Load(pattern); ok { return v.(*Pattern).Match(addr) }
    p, err := CompilePattern(pattern)
    if err != nil { return false }
    patternCache.Store(pattern, p)
    return p.Match(addr)
}

// PatternSet matches an address against any of several patterns.
type PatternSet []*Pattern

// CompilePatterns compiles every pattern or fails on the first invalid one.
func CompilePatterns(ps []string) (PatternSet, error) {
    out := make(PatternSet, 0, len(ps))
    for _, s := range ps {
        p, err := CompilePattern(strings.TrimSpace(s))
        if err != nil { return nil, err }
        out = append(out, p)
    }
    return out, nil
}

// MatchAny reports whether addr matches at least one pattern.
func (s PatternSet) MatchAny(addr string) bool {
    for _, p := range s {
        if p.Match(addr) { return true }
    }
    return false
}

func (s PatternSet) Strings() []string {
    out := make([]string, len(s))
    for i, p := range s { out[i] = p.raw }
    return out
}
