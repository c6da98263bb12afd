// Package config provides YAML-based configuration loading for mcpbridge.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Connection describes the OSC endpoint
    Connection ConnectionConfig `mapstructure:"connection"`

    // Security holds the inbound policy
    Security SecurityConfig `mapstructure:"security"`

    // Orchestrator tunes the queue, workers and request handling
    Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`

    // HTTP controls the optional gateway
    HTTP HTTPConfig `mapstructure:"http"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// ConnectionConfig is consumed at connect time. Changing it needs a
// disconnect and reconnect.
type ConnectionConfig struct {
    // Transport kind: udp or mem
    Transport         string `mapstructure:"transport"`
    Host              string `mapstructure:"host"`
    PortIn            int    `mapstructure:"port_in"`
    PortOut           int    `mapstructure:"port_out"`
    DynamicPorts      bool   `mapstructure:"dynamic_ports"`
    CompatibilityMode bool   `mapstructure:"compatibility_mode"`
    RetryCount        int    `mapstructure:"retry_count"`
    RetryIntervalMS   int    `mapstructure:"retry_interval_ms"`
    // BufferSize is the socket read buffer in bytes
    BufferSize    int   `mapstructure:"buffer_size"`
    PortAttempts  int   `mapstructure:"port_attempts"`
    MaxBlobSize   int   `mapstructure:"max_blob_size"`
    SendRateBytes int64 `mapstructure:"send_rate_bytes"`
}

// RetryInterval returns the reconnect base delay.
func (c ConnectionConfig) RetryInterval() time.Duration {
    return time.Duration(c.RetryIntervalMS) * time.Millisecond
}

// SecurityConfig mirrors the inbound policy. PolicyFile, when set, names a
// TOML file whose lists replace the ones here.
type SecurityConfig struct {
    MaxMessageSize     int      `mapstructure:"max_message_size"`
    RateLimitCount     int      `mapstructure:"rate_limit_count"`
    RateLimitPeriodMS  int      `mapstructure:"rate_limit_period_ms"`
    AllowedIPs         []string `mapstructure:"allowed_ips"`
    RestrictedCommands []string `mapstructure:"restricted_commands"`
    TokenRequired      bool     `mapstructure:"token_required"`
    TokenTTLS          int      `mapstructure:"token_ttl_s"`
    AddressFilter      []string `mapstructure:"address_filter"`
    PolicyFile         string   `mapstructure:"policy_file"`
}

// OrchestratorConfig tunes routing.
type OrchestratorConfig struct {
    QueueSize        int    `mapstructure:"queue_size"`
    Workers          int    `mapstructure:"workers"`
    BusyTimeoutMS    int    `mapstructure:"busy_timeout_ms"`
    IdleTimeoutMS    int    `mapstructure:"idle_timeout_ms"`
    ErrorThreshold   int    `mapstructure:"error_threshold"`
    ThrottleStepMS   int    `mapstructure:"throttle_step_ms"`
    RequestTimeoutMS int    `mapstructure:"request_timeout_ms"`
    RoutingStrategy  string `mapstructure:"routing_strategy"`
    Debug            bool   `mapstructure:"debug"`
    AutoReconnect    bool   `mapstructure:"auto_reconnect"`
    AddressRoot      string `mapstructure:"address_root"`
}

// HTTPConfig controls the HTTP gateway.
type HTTPConfig struct {
    Enable      bool     `mapstructure:"enable"`
    Listen      string   `mapstructure:"listen"`
    CORSOrigins []string `mapstructure:"cors_origins"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/mcpbridge.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Connection: ConnectionConfig{
            Transport:         "udp",
            Host:              "127.0.0.1",
            PortIn:            7400,
            PortOut:           7500,
            DynamicPorts:      true,
            CompatibilityMode: true,
            RetryCount:        5,
            RetryIntervalMS:   1000,
            BufferSize:        4096,
            PortAttempts:      10,
            MaxBlobSize:       1 << 20,
        },
        Security: SecurityConfig{
            MaxMessageSize:     1 << 20,
            RateLimitCount:     100,
            RateLimitPeriodMS:  60000,
            AllowedIPs:         []string{"127.0.0.1", "::1"},
            RestrictedCommands: []string{"system", "delete", "format"},
            TokenTTLS:          3600,
            AddressFilter:      []string{"/mcp/*", "/claude/*", "/ableton/*"},
        },
        Orchestrator: OrchestratorConfig{
            QueueSize:        100,
            Workers:          2,
            BusyTimeoutMS:    10,
            IdleTimeoutMS:    100,
            ErrorThreshold:   5,
            ThrottleStepMS:   50,
            RequestTimeoutMS: 5000,
            RoutingStrategy:  "priority",
            AutoReconnect:    true,
            AddressRoot:      "/mcp",
        },
        HTTP: HTTPConfig{Listen: "127.0.0.1:7480"},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix MCPBRIDGE and `.`/`-` are replaced with `_`.
// Example: MCPBRIDGE_CONNECTION_PORT_IN=9000
func Load(path string) (*Config, error) {
    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("MCPBRIDGE")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()
    setDefaults(v, Default())

    // Choose config file
    if path == "" {
        if envPath := os.Getenv("MCPBRIDGE_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("mcpbridge")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".mcpbridge"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    // Decode into a zero value: viper already holds every default, and
    // mapstructure merges lists element by element into non-empty slices.
    cfg := &Config{}
    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if cfg.Security.PolicyFile != "" {
        pf, err := LoadPolicyFile(cfg.Security.PolicyFile)
        if err != nil {
            return nil, err
        }
        pf.Apply(&cfg.Security)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

// seed defaults for viper so env-only configs work
func setDefaults(v *viper.Viper, cfg *Config) {
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

    c := cfg.Connection
    v.SetDefault("connection.transport", c.Transport)
    v.SetDefault("connection.host", c.Host)
    v.SetDefault("connection.port_in", c.PortIn)
    v.SetDefault("connection.port_out", c.PortOut)
    v.SetDefault("connection.dynamic_ports", c.DynamicPorts)
    v.SetDefault("connection.compatibility_mode", c.CompatibilityMode)
    v.SetDefault("connection.retry_count", c.RetryCount)
    v.SetDefault("connection.retry_interval_ms", c.RetryIntervalMS)
    v.SetDefault("connection.buffer_size", c.BufferSize)
    v.SetDefault("connection.port_attempts", c.PortAttempts)
    v.SetDefault("connection.max_blob_size", c.MaxBlobSize)
    v.SetDefault("connection.send_rate_bytes", c.SendRateBytes)

    s := cfg.Security
    v.SetDefault("security.max_message_size", s.MaxMessageSize)
    v.SetDefault("security.rate_limit_count", s.RateLimitCount)
    v.SetDefault("security.rate_limit_period_ms", s.RateLimitPeriodMS)
    v.SetDefault("security.allowed_ips", s.AllowedIPs)
    v.SetDefault("security.restricted_commands", s.RestrictedCommands)
    v.SetDefault("security.token_required", s.TokenRequired)
    v.SetDefault("security.token_ttl_s", s.TokenTTLS)
    v.SetDefault("security.address_filter", s.AddressFilter)
    v.SetDefault("security.policy_file", s.PolicyFile)

    o := cfg.Orchestrator
    v.SetDefault("orchestrator.queue_size", o.QueueSize)
    v.SetDefault("orchestrator.workers", o.Workers)
    v.SetDefault("orchestrator.busy_timeout_ms", o.BusyTimeoutMS)
    v.SetDefault("orchestrator.idle_timeout_ms", o.IdleTimeoutMS)
    v.SetDefault("orchestrator.error_threshold", o.ErrorThreshold)
    v.SetDefault("orchestrator.throttle_step_ms", o.ThrottleStepMS)
    v.SetDefault("orchestrator.request_timeout_ms", o.RequestTimeoutMS)
    v.SetDefault("orchestrator.routing_strategy", o.RoutingStrategy)
    v.SetDefault("orchestrator.debug", o.Debug)
    v.SetDefault("orchestrator.auto_reconnect", o.AutoReconnect)
    v.SetDefault("orchestrator.address_root", o.AddressRoot)

    v.SetDefault("http.enable", cfg.HTTP.Enable)
    v.SetDefault("http.listen", cfg.HTTP.Listen)
    v.SetDefault("http.cors_origins", cfg.HTTP.CORSOrigins)
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }

    c.Connection.Transport = strings.ToLower(strings.TrimSpace(c.Connection.Transport))
    switch c.Connection.Transport {
    case "", "udp", "tcp", "mem", "inproc":
    default:
        return fmt.Errorf("invalid connection.transport: %q", c.Connection.Transport)
    }
    if err := validPort("connection.port_in", c.Connection.PortIn); err != nil {
        return err
    }
    if err := validPort("connection.port_out", c.Connection.PortOut); err != nil {
        return err
    }
    if c.Connection.RetryCount < 0 {
        return fmt.Errorf("invalid connection.retry_count: %d", c.Connection.RetryCount)
    }
    if c.Connection.MaxBlobSize <= 0 {
        return fmt.Errorf("invalid connection.max_blob_size: %d", c.Connection.MaxBlobSize)
    }
    if c.Orchestrator.QueueSize <= 0 {
        return fmt.Errorf("invalid orchestrator.queue_size: %d", c.Orchestrator.QueueSize)
    }
    if c.Orchestrator.Workers <= 0 {
        return fmt.Errorf("invalid orchestrator.workers: %d", c.Orchestrator.Workers)
    }
    if c.Security.RateLimitCount < 0 || c.Security.RateLimitPeriodMS < 0 {
        return fmt.Errorf("invalid security rate limit: %d per %dms", c.Security.RateLimitCount, c.Security.RateLimitPeriodMS)
    }
    root := strings.TrimSpace(c.Orchestrator.AddressRoot)
    if !strings.HasPrefix(root, "/") {
        return fmt.Errorf("invalid orchestrator.address_root: %q", c.Orchestrator.AddressRoot)
    }
    c.Orchestrator.AddressRoot = strings.TrimRight(root, "/")
    return nil
}

// port 0 asks the OS for any free port
func validPort(key string, p int) error {
    if p < 0 || p > 65535 {
        return fmt.Errorf("invalid %s: %d", key, p)
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
