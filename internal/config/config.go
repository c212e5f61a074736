// ABOUTME: Configuration loading and parsing for coven-plugin
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-plugin configuration
type Config struct {
	Logging     LoggingConfig    `yaml:"logging"`
	SessionHost SessionHostConfig `yaml:"session_host"`
	LSP         LSPConfig        `yaml:"lsp"`
	MCP         MCPConfig        `yaml:"mcp"`
	Pool        PoolConfig       `yaml:"pool"`
	Background  BackgroundConfig `yaml:"background"`
	History     HistoryConfig    `yaml:"history"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionHostConfig holds the endpoint of the external agent runtime that
// hosts background sessions.
type SessionHostConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// LSPServerConfig describes how to launch one language server.
type LSPServerConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	Extensions []string `yaml:"extensions"`
	// InstallHint is shown when the command is not found on PATH.
	InstallHint string `yaml:"install_hint"`
}

// LSPConfig holds language-server settings. Servers listed here override or
// extend the builtin registry; Disabled entries are never spawned.
type LSPConfig struct {
	Servers  map[string]LSPServerConfig `yaml:"servers"`
	Disabled []string                   `yaml:"disabled"`

	// Empirically tuned settle delays. The defaults compensate for servers
	// that acknowledge initialize before they are actually ready.
	InitializeSettle    time.Duration `yaml:"-"`
	InitializeSettleRaw string        `yaml:"initialize_settle"`
	OpenFileSettle      time.Duration `yaml:"-"`
	OpenFileSettleRaw   string        `yaml:"open_file_settle"`
	StartupGrace        time.Duration `yaml:"-"`
	StartupGraceRaw     string        `yaml:"startup_grace"`
	RequestTimeout      time.Duration `yaml:"-"`
	RequestTimeoutRaw   string        `yaml:"request_timeout"`
}

// MCPServerConfig describes one external MCP server. Type selects the
// transport: "stdio" spawns Command, "http" connects to Endpoint.
type MCPServerConfig struct {
	Type     string            `yaml:"type"`
	Command  string            `yaml:"command"`
	Args     []string          `yaml:"args"`
	Env      map[string]string `yaml:"env"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	OAuth    bool              `yaml:"oauth"`
}

// MCPConfig maps skill names to the MCP servers they expose.
type MCPConfig struct {
	Skills   map[string]map[string]MCPServerConfig `yaml:"skills"`
	Disabled []string                              `yaml:"disabled"`
}

// PoolConfig holds connection pool tuning shared by the LSP and MCP pools.
type PoolConfig struct {
	IdleTimeout      time.Duration `yaml:"-"`
	IdleTimeoutRaw   string        `yaml:"idle_timeout"`
	SweepInterval    time.Duration `yaml:"-"`
	SweepIntervalRaw string        `yaml:"sweep_interval"`
}

// BackgroundConfig holds background task polling configuration.
type BackgroundConfig struct {
	PollInterval    time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
	PollTimeout     time.Duration `yaml:"-"`
	PollTimeoutRaw  string        `yaml:"poll_timeout"`
	// StableThreshold is the number of consecutive ticks the message count
	// must hold steady at idle before a task is considered finished.
	StableThreshold int `yaml:"stable_threshold"`
	// Retention bounds how long terminal tasks stay in the in-memory
	// registry before they are archived and pruned.
	Retention    time.Duration `yaml:"-"`
	RetentionRaw string        `yaml:"retention"`
}

// HistoryConfig holds the task history database configuration.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Defaults for every tunable. These mirror the empirically chosen values of
// the original deployment and can be overridden per install.
const (
	DefaultInitializeSettle = 300 * time.Millisecond
	DefaultOpenFileSettle   = 1 * time.Second
	DefaultStartupGrace     = 100 * time.Millisecond
	DefaultRequestTimeout   = 30 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultSweepInterval    = 60 * time.Second
	DefaultPollInterval     = 2 * time.Second
	DefaultPollTimeout      = 5 * time.Minute
	DefaultStableThreshold  = 3
	DefaultRetention        = 1 * time.Hour
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config populated with defaults only, for hosts that run
// the plugin without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	for id, srv := range c.LSP.Servers {
		if srv.Command == "" {
			return fmt.Errorf("lsp.servers.%s.command is required", id)
		}
	}

	for skill, servers := range c.MCP.Skills {
		for name, srv := range servers {
			switch srv.Type {
			case "", "stdio":
				if srv.Command == "" {
					return fmt.Errorf("mcp.skills.%s.%s.command is required for stdio servers", skill, name)
				}
			case "http":
				if srv.Endpoint == "" {
					return fmt.Errorf("mcp.skills.%s.%s.endpoint is required for http servers", skill, name)
				}
			default:
				return fmt.Errorf("mcp.skills.%s.%s.type must be stdio or http, got %q", skill, name, srv.Type)
			}
		}
	}

	if c.Background.StableThreshold < 0 {
		return fmt.Errorf("background.stable_threshold must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.SessionHost.RequestTimeout == 0 {
		c.SessionHost.RequestTimeout = DefaultRequestTimeout
	}
	if c.LSP.InitializeSettle == 0 {
		c.LSP.InitializeSettle = DefaultInitializeSettle
	}
	if c.LSP.OpenFileSettle == 0 {
		c.LSP.OpenFileSettle = DefaultOpenFileSettle
	}
	if c.LSP.StartupGrace == 0 {
		c.LSP.StartupGrace = DefaultStartupGrace
	}
	if c.LSP.RequestTimeout == 0 {
		c.LSP.RequestTimeout = DefaultRequestTimeout
	}
	if c.Pool.IdleTimeout == 0 {
		c.Pool.IdleTimeout = DefaultIdleTimeout
	}
	if c.Pool.SweepInterval == 0 {
		c.Pool.SweepInterval = DefaultSweepInterval
	}
	if c.Background.PollInterval == 0 {
		c.Background.PollInterval = DefaultPollInterval
	}
	if c.Background.PollTimeout == 0 {
		c.Background.PollTimeout = DefaultPollTimeout
	}
	if c.Background.StableThreshold == 0 {
		c.Background.StableThreshold = DefaultStableThreshold
	}
	if c.Background.Retention == 0 {
		c.Background.Retention = DefaultRetention
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.SessionHost.RequestTimeoutRaw, &cfg.SessionHost.RequestTimeout, "session_host.request_timeout"},
		{cfg.LSP.InitializeSettleRaw, &cfg.LSP.InitializeSettle, "lsp.initialize_settle"},
		{cfg.LSP.OpenFileSettleRaw, &cfg.LSP.OpenFileSettle, "lsp.open_file_settle"},
		{cfg.LSP.StartupGraceRaw, &cfg.LSP.StartupGrace, "lsp.startup_grace"},
		{cfg.LSP.RequestTimeoutRaw, &cfg.LSP.RequestTimeout, "lsp.request_timeout"},
		{cfg.Pool.IdleTimeoutRaw, &cfg.Pool.IdleTimeout, "pool.idle_timeout"},
		{cfg.Pool.SweepIntervalRaw, &cfg.Pool.SweepInterval, "pool.sweep_interval"},
		{cfg.Background.PollIntervalRaw, &cfg.Background.PollInterval, "background.poll_interval"},
		{cfg.Background.PollTimeoutRaw, &cfg.Background.PollTimeout, "background.poll_timeout"},
		{cfg.Background.RetentionRaw, &cfg.Background.Retention, "background.retention"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
