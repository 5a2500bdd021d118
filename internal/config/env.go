// ABOUTME: Locates config files and loads the nearest .env before config parsing
// ABOUTME: Shared by the hub and agent binaries

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	dotenvPath string
	dotenvErr  error
)

// LoadDotEnv loads the first .env file found from the current working
// directory up to the filesystem root. Variables already set in the process
// environment win. Subsequent calls are no-ops and return the first result.
func LoadDotEnv() (string, error) {
	dotenvOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			dotenvErr = err
			return
		}
		path, err := findDotEnv(wd)
		if err != nil || path == "" {
			dotenvErr = err
			return
		}
		if err := godotenv.Load(path); err != nil {
			dotenvErr = err
			return
		}
		dotenvPath = path
	})
	return dotenvPath, dotenvErr
}

func findDotEnv(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// HubConfigPath returns the path to the hub config file.
// Priority: POSBRIDGE_HUB_CONFIG env var > XDG_CONFIG_HOME/posbridge/hub.yaml > ~/.config/posbridge/hub.yaml
func HubConfigPath() string {
	return configPath("POSBRIDGE_HUB_CONFIG", "hub.yaml")
}

// AgentConfigPath returns the path to the agent config file.
// Priority: POSBRIDGE_AGENT_CONFIG env var > XDG_CONFIG_HOME/posbridge/agent.toml > ~/.config/posbridge/agent.toml
func AgentConfigPath() string {
	return configPath("POSBRIDGE_AGENT_CONFIG", "agent.toml")
}

func configPath(envVar, name string) string {
	if envPath := os.Getenv(envVar); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return name
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "posbridge", name)
}
