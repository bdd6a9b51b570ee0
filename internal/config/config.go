// ABOUTME: Configuration loading and parsing for chorus
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable overriding the config path.
const EnvConfigPath = "CHORUS_CONFIG"

// Config represents the complete chorus configuration
type Config struct {
	Backend       BackendConfig       `yaml:"backend" toml:"backend"`
	Transport     TransportConfig     `yaml:"transport" toml:"transport"`
	Monitor       MonitorConfig       `yaml:"monitor" toml:"monitor"`
	Orchestration OrchestrationConfig `yaml:"orchestration" toml:"orchestration"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" toml:"metrics"`
}

// BackendConfig locates the multi-agent backend
type BackendConfig struct {
	URL           string `yaml:"url" toml:"url"`
	WebsocketPath string `yaml:"websocket_path" toml:"websocket_path"`
}

// TransportConfig holds websocket connection and reconnect timing
type TransportConfig struct {
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	ReconnectBase time.Duration `yaml:"-" toml:"-"`
	MaxDelay      time.Duration `yaml:"-" toml:"-"`
	DialTimeout   time.Duration `yaml:"-" toml:"-"`
	PingInterval  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconnectBaseRaw string `yaml:"reconnect_base" toml:"reconnect_base"`
	MaxDelayRaw      string `yaml:"max_delay" toml:"max_delay"`
	DialTimeoutRaw   string `yaml:"dial_timeout" toml:"dial_timeout"`
	PingIntervalRaw  string `yaml:"ping_interval" toml:"ping_interval"`
}

// MonitorConfig holds reachability probe timing
type MonitorConfig struct {
	Interval     time.Duration `yaml:"-" toml:"-"`
	ProbeTimeout time.Duration `yaml:"-" toml:"-"`

	IntervalRaw     string `yaml:"interval" toml:"interval"`
	ProbeTimeoutRaw string `yaml:"probe_timeout" toml:"probe_timeout"`
}

// OrchestrationConfig holds turn pacing
type OrchestrationConfig struct {
	CompletionThreshold int `yaml:"completion_threshold" toml:"completion_threshold"`
	ContextMessages     int `yaml:"context_messages" toml:"context_messages"`

	AutoInterval time.Duration `yaml:"-" toml:"-"`
	SettleDelay  time.Duration `yaml:"-" toml:"-"`
	// TurnTimeout of zero disables the timeout
	TurnTimeout time.Duration `yaml:"-" toml:"-"`

	AutoIntervalRaw string `yaml:"auto_interval" toml:"auto_interval"`
	SettleDelayRaw  string `yaml:"settle_delay" toml:"settle_delay"`
	TurnTimeoutRaw  string `yaml:"turn_timeout" toml:"turn_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds bearer token configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	ClientID  string        `yaml:"client_id" toml:"client_id"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:           "http://localhost:8000",
			WebsocketPath: "/ws",
		},
		Transport: TransportConfig{
			MaxAttempts:   5,
			ReconnectBase: time.Second,
			MaxDelay:      30 * time.Second,
			DialTimeout:   15 * time.Second,
			PingInterval:  25 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:     30 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
		Orchestration: OrchestrationConfig{
			CompletionThreshold: 10,
			ContextMessages:     10,
			AutoInterval:        5 * time.Second,
			SettleDelay:         500 * time.Millisecond,
			TurnTimeout:         2 * time.Minute,
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath(),
		},
		Auth: AuthConfig{
			ClientID: "chorus",
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
			Path: "/metrics",
		},
	}
}

// DefaultDatabasePath returns the XDG data location of the database.
func DefaultDatabasePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "chorus.db"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "chorus", "chorus.db")
}

// DefaultPath returns $CHORUS_CONFIG, or the XDG config location.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "chorus", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML. Values absent
// from the file keep their defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https scheme")
	}
	if !strings.HasPrefix(c.Backend.WebsocketPath, "/") {
		return fmt.Errorf("backend.websocket_path must start with /")
	}

	if c.Transport.MaxAttempts < 0 {
		return fmt.Errorf("transport.max_attempts must not be negative")
	}
	if c.Transport.ReconnectBase <= 0 {
		return fmt.Errorf("transport.reconnect_base must be positive")
	}
	if c.Transport.MaxDelay < c.Transport.ReconnectBase {
		return fmt.Errorf("transport.max_delay must be at least transport.reconnect_base")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.Orchestration.AutoInterval <= 0 {
		return fmt.Errorf("orchestration.auto_interval must be positive")
	}
	if c.Orchestration.TurnTimeout < 0 {
		return fmt.Errorf("orchestration.turn_timeout must not be negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
// Empty strings keep the current value.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"transport.reconnect_base", cfg.Transport.ReconnectBaseRaw, &cfg.Transport.ReconnectBase},
		{"transport.max_delay", cfg.Transport.MaxDelayRaw, &cfg.Transport.MaxDelay},
		{"transport.dial_timeout", cfg.Transport.DialTimeoutRaw, &cfg.Transport.DialTimeout},
		{"transport.ping_interval", cfg.Transport.PingIntervalRaw, &cfg.Transport.PingInterval},
		{"monitor.interval", cfg.Monitor.IntervalRaw, &cfg.Monitor.Interval},
		{"monitor.probe_timeout", cfg.Monitor.ProbeTimeoutRaw, &cfg.Monitor.ProbeTimeout},
		{"orchestration.auto_interval", cfg.Orchestration.AutoIntervalRaw, &cfg.Orchestration.AutoInterval},
		{"orchestration.settle_delay", cfg.Orchestration.SettleDelayRaw, &cfg.Orchestration.SettleDelay},
		{"orchestration.turn_timeout", cfg.Orchestration.TurnTimeoutRaw, &cfg.Orchestration.TurnTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
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
