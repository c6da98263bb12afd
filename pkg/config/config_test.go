package config

import (
    "os"
    "path/filepath"
    "testing"
)

func writeFile(t *testing.T, name, body string) string {
    t.Helper()
    p := filepath.Join(t.TempDir(), name)
    if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
        t.Fatalf("write %s: %v", name, err)
    }
    return p
}

func TestLoadDefaults(t *testing.T) {
    cfg, err := Load(writeFile(t, "empty.yaml", "{}\n"))
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    c := cfg.Connection
    if c.Host != "127.0.0.1" || c.PortIn != 7400 || c.PortOut != 7500 || !c.DynamicPorts || !c.CompatibilityMode {
        t.Fatalf("connection = %+v", c)
    }
    if c.RetryCount != 5 || c.RetryInterval().Milliseconds() != 1000 || c.BufferSize != 4096 {
        t.Fatalf("retry/buffer = %+v", c)
    }
    if cfg.Orchestrator.QueueSize != 100 || cfg.Orchestrator.AddressRoot != "/mcp" {
        t.Fatalf("orchestrator = %+v", cfg.Orchestrator)
    }
    if len(cfg.Security.AddressFilter) != 3 || cfg.Security.RateLimitCount != 100 {
        t.Fatalf("security = %+v", cfg.Security)
    }
}

func TestLoadYAMLAndEnv(t *testing.T) {
    t.Setenv("MCPBRIDGE_CONNECTION_PORT_OUT", "9100")
    p := writeFile(t, "mcpbridge.yaml", `
connection:
  port_in: 9000
  dynamic_ports: false
orchestrator:
  address_root: /claude/
log:
  level: debug
`)
    cfg, err := Load(p)
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if cfg.Connection.PortIn != 9000 || cfg.Connection.DynamicPorts {
        t.Fatalf("yaml not applied: %+v", cfg.Connection)
    }
    if cfg.Connection.PortOut != 9100 {
        t.Fatalf("env not applied: port_out = %d", cfg.Connection.PortOut)
    }
    if cfg.Orchestrator.AddressRoot != "/claude" {
        t.Fatalf("root = %q", cfg.Orchestrator.AddressRoot)
    }
}

func TestLoadRejectsInvalid(t *testing.T) {
    cases := map[string]string{
        "level":  "log:\n  level: loud\n",
        "port":   "connection:\n  port_in: 70000\n",
        "queue":  "orchestrator:\n  queue_size: 0\n",
        "root":   "orchestrator:\n  address_root: mcp\n",
        "blob":   "connection:\n  max_blob_size: -1\n",
        "link":   "connection:\n  transport: carrier-pigeon\n",
    }
    for name, body := range cases {
        if _, err := Load(writeFile(t, name+".yaml", body)); err == nil {
            t.Errorf("%s: expected error", name)
        }
    }
}

func TestPolicyFileOverridesYAML(t *testing.T) {
    pol := writeFile(t, "policy.toml", `
allowed_ips = ["10.0.0.5"]
address_filter = ["/mcp/*"]
token_required = true
`)
    p := writeFile(t, "cfg.yaml", "security:\n  policy_file: "+pol+"\n  restricted_commands: [reboot]\n")
    cfg, err := Load(p)
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    s := cfg.Security
    if len(s.AllowedIPs) != 1 || s.AllowedIPs[0] != "10.0.0.5" || !s.TokenRequired {
        t.Fatalf("policy not applied: %+v", s)
    }
    if len(s.AddressFilter) != 1 || len(s.RestrictedCommands) != 1 || s.RestrictedCommands[0] != "reboot" {
        t.Fatalf("lists = %+v", s)
    }
}

func TestYAMLListsReplaceDefaults(t *testing.T) {
    p := writeFile(t, "narrow.yaml", "security:\n  allowed_ips: [\"10.0.0.5\"]\n  address_filter: [\"/mcp/*\"]\n")
    cfg, err := Load(p)
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if got := cfg.Security.AllowedIPs; len(got) != 1 || got[0] != "10.0.0.5" {
        t.Fatalf("allowed_ips = %v", got)
    }
    if got := cfg.Security.AddressFilter; len(got) != 1 || got[0] != "/mcp/*" {
        t.Fatalf("address_filter = %v", got)
    }
    if got := cfg.Security.RestrictedCommands; len(got) != 3 {
        t.Fatalf("restricted_commands default lost: %v", got)
    }
}

func TestPolicyFileUnknownKey(t *testing.T) {
    p := writeFile(t, "bad.toml", "allowed_ip = [\"1.2.3.4\"]\n")
    if _, err := LoadPolicyFile(p); err == nil {
        t.Fatalf("expected unknown key error")
    }
}
