// ABOUTME: Tests for agent TOML configuration and .env discovery
// ABOUTME: Covers defaults, durations, validation, and config path resolution

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgent_Full(t *testing.T) {
	t.Setenv("TEST_POSBRIDGE_HUB", "http://hub.internal:5000")

	data := `
[hub]
url = "${TEST_POSBRIDGE_HUB}"

[agent]
id = "till-3"
listen_addr = "127.0.0.1:6001"
heartbeat_interval = "15s"
announce_timeout = "3s"
notify = false

[devices]
backend = "system"
scales = ["/dev/ttyUSB0", "/dev/ttyACM1"]
watch_dev = true
scale_baud = 4800

[logging]
level = "warn"
`
	cfg, err := ParseAgent([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "http://hub.internal:5000", cfg.Hub.URL)
	assert.Equal(t, "till-3", cfg.Agent.ID)
	assert.Equal(t, "127.0.0.1:6001", cfg.Agent.ListenAddr)
	assert.Equal(t, 15*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, 3*time.Second, cfg.Agent.AnnounceTimeout)
	assert.False(t, cfg.Agent.Notify)
	assert.Equal(t, BackendSystem, cfg.Devices.Backend)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyACM1"}, cfg.Devices.Scales)
	assert.True(t, cfg.Devices.WatchDev)
	assert.Equal(t, 4800, cfg.Devices.ScaleBaud)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestParseAgent_Defaults(t *testing.T) {
	cfg, err := ParseAgent([]byte("[hub]\nurl = \"http://localhost:5000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAgentListenAddr, cfg.Agent.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.Agent.AnnounceTimeout)
	assert.True(t, cfg.Agent.Notify)
	assert.Equal(t, BackendSimulated, cfg.Devices.Backend)
	assert.Equal(t, 9600, cfg.Devices.ScaleBaud)
}

func TestParseAgent_RequiresHub(t *testing.T) {
	_, err := ParseAgent([]byte("[agent]\nid = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hub.url")

	cfg, err := ParseAgent([]byte("[hub]\ndiscover = true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Hub.Discover)
}

func TestAgentValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultAgent()
	cfg.Hub.URL = "ftp://hub"
	cfg.Devices.Backend = "magic"
	cfg.Agent.HeartbeatInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"hub.url", "devices.backend", "agent.heartbeat_interval"} {
		assert.True(t, strings.Contains(err.Error(), want), "missing %q in %q", want, err)
	}
}

func TestLoadAgent_MissingFile(t *testing.T) {
	cfg, err := LoadAgent(filepath.Join(t.TempDir(), "agent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAgentListenAddr, cfg.Agent.ListenAddr)
}

func TestFindDotEnv_WalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("X=1\n"), 0644))

	path, err := findDotEnv(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".env"), path)
}

func TestConfigPaths(t *testing.T) {
	t.Setenv("POSBRIDGE_HUB_CONFIG", "/etc/posbridge/hub.yaml")
	assert.Equal(t, "/etc/posbridge/hub.yaml", HubConfigPath())

	t.Setenv("POSBRIDGE_AGENT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "posbridge", "agent.toml"), AgentConfigPath())
}
