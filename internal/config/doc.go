// Package config handles configuration loading for posbridge-hub and
// posbridge-agent.
//
// # Overview
//
// The hub reads YAML, the agent reads TOML. Both expand ${VAR_NAME}
// references from the environment, apply defaults for anything left out,
// and validate the result, reporting every problem at once.
//
// Before either file is read, the binaries load the nearest .env file
// walking up from the working directory (see LoadDotEnv).
//
// # Hub File
//
// Default locations (in order):
//
//  1. Path from POSBRIDGE_HUB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/posbridge/hub.yaml
//  3. ~/.config/posbridge/hub.yaml
//
// Example:
//
//	server:
//	  http_addr: "0.0.0.0:5000"
//	  public_url: "http://hub.local:5000"
//	database:
//	  path: "/var/lib/posbridge/journal.db"   # empty disables the journal
//	agents:
//	  online_window: "60s"
//	  callback_port: 5001
//	  trust_forwarded_for: false
//	  dedupe_window: "10m"
//	relay:
//	  print_timeout: "30s"
//	  scale_timeout: "10s"
//	cors:
//	  allowed_origins: ["*"]
//	discovery:
//	  enabled: false
//	  port: 9999
//	  interval: "5s"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Duration values use Go's time.ParseDuration syntax.
//
// # Agent File
//
// Default locations (in order):
//
//  1. Path from POSBRIDGE_AGENT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/posbridge/agent.toml
//  3. ~/.config/posbridge/agent.toml
//
// Example:
//
//	[hub]
//	url = "${POSBRIDGE_HUB_URL}"
//	discover = false
//
//	[agent]
//	listen_addr = "0.0.0.0:5001"
//	heartbeat_interval = "30s"
//	announce_timeout = "10s"
//	notify = true
//
//	[devices]
//	backend = "system"    # system, simulated
//	scales = ["/dev/ttyUSB0"]
//	watch_dev = true
//	scale_baud = 9600
package config
