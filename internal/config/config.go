// ABOUTME: Configuration loading and parsing for posbridge-hub
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Defaults applied to a hub configuration before the file is parsed.
const (
	DefaultHTTPAddr      = "0.0.0.0:5000"
	DefaultOnlineWindow  = 60 * time.Second
	DefaultCallbackPort  = 5001
	DefaultPrintTimeout  = 30 * time.Second
	DefaultScaleTimeout  = 10 * time.Second
	DefaultMetricsPath   = "/metrics"
	DefaultDedupeWindow  = 10 * time.Minute
	DefaultDiscoveryPort = 9999
)

// Config represents the complete posbridge-hub configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Agents    AgentsConfig    `yaml:"agents"`
	Relay     RelayConfig     `yaml:"relay"`
	CORS      CORSConfig      `yaml:"cors"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicURL is the address agents should use to reach the hub. It is
	// what the discovery beacon advertises.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds the operation journal location. An empty path
// disables the journal.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig holds registry and callback settings
type AgentsConfig struct {
	OnlineWindow time.Duration `yaml:"-"`
	DedupeWindow time.Duration `yaml:"-"`

	// CallbackPort is the fixed port every agent serves its inbound API on.
	CallbackPort int `yaml:"callback_port"`
	// TrustForwardedFor takes the agent address from X-Forwarded-For when
	// the hub runs behind a reverse proxy.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`

	// Raw string values for YAML unmarshaling
	OnlineWindowRaw string `yaml:"online_window"`
	DedupeWindowRaw string `yaml:"dedupe_window"`
}

// RelayConfig holds per-operation relay timeouts
type RelayConfig struct {
	PrintTimeout time.Duration `yaml:"-"`
	ScaleTimeout time.Duration `yaml:"-"`

	PrintTimeoutRaw string `yaml:"print_timeout"`
	ScaleTimeoutRaw string `yaml:"scale_timeout"`
}

// CORSConfig lists the browser origins allowed to call the hub
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DiscoveryConfig controls the LAN beacon that advertises the hub URL
type DiscoveryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a hub configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: DefaultHTTPAddr},
		Agents: AgentsConfig{
			OnlineWindow: DefaultOnlineWindow,
			DedupeWindow: DefaultDedupeWindow,
			CallbackPort: DefaultCallbackPort,
		},
		Relay: RelayConfig{
			PrintTimeout: DefaultPrintTimeout,
			ScaleTimeout: DefaultScaleTimeout,
		},
		Discovery: DiscoveryConfig{
			Port:     DefaultDiscoveryPort,
			Interval: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Path: DefaultMetricsPath},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML hub configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and valid.
// Every problem is reported, not only the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.HTTPAddr == "" {
		result = multierror.Append(result, errors.New("server.http_addr is required"))
	}
	if c.Agents.OnlineWindow <= 0 {
		result = multierror.Append(result, errors.New("agents.online_window must be positive"))
	}
	if c.Agents.CallbackPort <= 0 || c.Agents.CallbackPort > 65535 {
		result = multierror.Append(result, fmt.Errorf("agents.callback_port %d is out of range", c.Agents.CallbackPort))
	}
	if c.Relay.PrintTimeout <= 0 {
		result = multierror.Append(result, errors.New("relay.print_timeout must be positive"))
	}
	if c.Relay.ScaleTimeout <= 0 {
		result = multierror.Append(result, errors.New("relay.scale_timeout must be positive"))
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		result = multierror.Append(result, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if c.Discovery.Enabled && c.Server.PublicURL == "" {
		result = multierror.Append(result, errors.New("server.public_url is required when discovery is enabled"))
	}
	if err := validateLogging(c.Logging); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func validateLogging(l LoggingConfig) error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", l.Level)
	}
	switch l.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", l.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"agents.online_window", cfg.Agents.OnlineWindowRaw, &cfg.Agents.OnlineWindow},
		{"agents.dedupe_window", cfg.Agents.DedupeWindowRaw, &cfg.Agents.DedupeWindow},
		{"relay.print_timeout", cfg.Relay.PrintTimeoutRaw, &cfg.Relay.PrintTimeout},
		{"relay.scale_timeout", cfg.Relay.ScaleTimeoutRaw, &cfg.Relay.ScaleTimeout},
		{"discovery.interval", cfg.Discovery.IntervalRaw, &cfg.Discovery.Interval},
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
