// ABOUTME: Configuration loading for posbridge-agent
// ABOUTME: Loads TOML config with environment variable expansion and defaults

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
)

// Agent defaults.
const (
	DefaultAgentListenAddr   = "0.0.0.0:5001"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultAnnounceTimeout   = 10 * time.Second
	DefaultNotifyTimeout     = 5 * time.Second
	DefaultDiscoverTimeout   = 10 * time.Second
	DefaultScaleBaud         = 9600
	DefaultScaleReadTimeout  = 2 * time.Second
)

// Device backend names.
const (
	BackendSimulated = "simulated"
	BackendSystem    = "system"
)

// AgentConfig represents the complete posbridge-agent configuration
type AgentConfig struct {
	Hub     HubConfig     `toml:"hub"`
	Agent   AgentSection  `toml:"agent"`
	Devices DevicesConfig `toml:"devices"`
	Logging LoggingConfig `toml:"logging"`
}

// HubConfig locates the hub the agent announces itself to
type HubConfig struct {
	URL             string        `toml:"url"`
	Discover        bool          `toml:"discover"`
	DiscoverPort    int           `toml:"discover_port"`
	DiscoverTimeout time.Duration `toml:"discover_timeout"`
}

// AgentSection holds identity, listener and timing settings
type AgentSection struct {
	// ID pins the agent identity. Empty means generate one at startup.
	ID                string        `toml:"id"`
	ListenAddr        string        `toml:"listen_addr"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
	AnnounceTimeout   time.Duration `toml:"announce_timeout"`
	Notify            bool          `toml:"notify"`
	NotifyTimeout     time.Duration `toml:"notify_timeout"`
}

// DevicesConfig selects the device backend and its parameters
type DevicesConfig struct {
	Backend          string        `toml:"backend"`
	Scales           []string      `toml:"scales"`
	WatchDev         bool          `toml:"watch_dev"`
	ScaleBaud        int           `toml:"scale_baud"`
	ScaleReadTimeout time.Duration `toml:"scale_read_timeout"`
}

// DefaultAgent returns an agent configuration with every default applied.
func DefaultAgent() *AgentConfig {
	return &AgentConfig{
		Hub: HubConfig{
			DiscoverPort:    DefaultDiscoveryPort,
			DiscoverTimeout: DefaultDiscoverTimeout,
		},
		Agent: AgentSection{
			ListenAddr:        DefaultAgentListenAddr,
			HeartbeatInterval: DefaultHeartbeatInterval,
			AnnounceTimeout:   DefaultAnnounceTimeout,
			Notify:            true,
			NotifyTimeout:     DefaultNotifyTimeout,
		},
		Devices: DevicesConfig{
			Backend:          BackendSimulated,
			ScaleBaud:        DefaultScaleBaud,
			ScaleReadTimeout: DefaultScaleReadTimeout,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadAgent reads agent config from the given path, expanding environment
// variables. A missing file yields the defaults, which still fail validation
// unless a hub URL or discovery is supplied some other way.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAgent(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return ParseAgent(data)
}

// ParseAgent decodes TOML agent configuration on top of the defaults.
func ParseAgent(data []byte) (*AgentConfig, error) {
	cfg := DefaultAgent()

	expanded := expandEnvVars(string(data))
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required config fields are present and valid.
func (c *AgentConfig) Validate() error {
	var result *multierror.Error

	if c.Hub.URL == "" && !c.Hub.Discover {
		result = multierror.Append(result, errors.New("hub.url is required unless hub.discover is set"))
	}
	if c.Hub.URL != "" {
		u, err := url.Parse(c.Hub.URL)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("hub.url is not a valid URL: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			result = multierror.Append(result, errors.New("hub.url must use http or https scheme"))
		}
	}
	if c.Agent.ListenAddr == "" {
		result = multierror.Append(result, errors.New("agent.listen_addr is required"))
	}
	if c.Agent.HeartbeatInterval <= 0 {
		result = multierror.Append(result, errors.New("agent.heartbeat_interval must be positive"))
	}
	if c.Agent.AnnounceTimeout <= 0 {
		result = multierror.Append(result, errors.New("agent.announce_timeout must be positive"))
	}
	switch c.Devices.Backend {
	case BackendSimulated, BackendSystem:
	default:
		result = multierror.Append(result, fmt.Errorf("devices.backend %q is not one of %s, %s",
			c.Devices.Backend, BackendSimulated, BackendSystem))
	}
	if c.Devices.ScaleBaud <= 0 {
		result = multierror.Append(result, errors.New("devices.scale_baud must be positive"))
	}
	if err := validateLogging(c.Logging); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
