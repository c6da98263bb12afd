package config

import (
    "fmt"

    "github.com/BurntSushi/toml"
)

// PolicyFile is the TOML form of the security lists. Unset fields leave
// the YAML values alone.
//
//    allowed_ips = ["127.0.0.1", "10.0.0.5"]
//    restricted_commands = ["system", "delete"]
//    address_filter = ["/mcp/*"]
//    token_required = true
type PolicyFile struct {
    AllowedIPs         []string `toml:"allowed_ips"`
    RestrictedCommands []string `toml:"restricted_commands"`
    AddressFilter      []string `toml:"address_filter"`
    TokenRequired      *bool    `toml:"token_required"`
    MaxMessageSize     *int     `toml:"max_message_size"`
    RateLimitCount     *int     `toml:"rate_limit_count"`
    RateLimitPeriodMS  *int     `toml:"rate_limit_period_ms"`
}

// LoadPolicyFile decodes a policy file. Unknown keys are an error.
func LoadPolicyFile(path string) (*PolicyFile, error) {
    var pf PolicyFile
    md, err := toml.DecodeFile(path, &pf)
    if err != nil {
        return nil, fmt.Errorf("read policy file %s: %w", path, err)
    }
    if und := md.Undecoded(); len(und) > 0 {
        return nil, fmt.Errorf("policy file %s: unknown key %q", path, und[0].String())
    }
    return &pf, nil
}

// Apply overlays the file onto s.
func (pf *PolicyFile) Apply(s *SecurityConfig) {
    if pf.AllowedIPs != nil {
        s.AllowedIPs = pf.AllowedIPs
    }
    if pf.RestrictedCommands != nil {
        s.RestrictedCommands = pf.RestrictedCommands
    }
    if pf.AddressFilter != nil {
        s.AddressFilter = pf.AddressFilter
    }
    if pf.TokenRequired != nil {
        s.TokenRequired = *pf.TokenRequired
    }
    if pf.MaxMessageSize != nil {
        s.MaxMessageSize = *pf.MaxMessageSize
    }
    if pf.RateLimitCount != nil {
        s.RateLimitCount = *pf.RateLimitCount
    }
    if pf.RateLimitPeriodMS != nil {
        s.RateLimitPeriodMS = *pf.RateLimitPeriodMS
    }
}
