package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent switchboard configuration stored as
// config.toml in the .switchboard/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version      int                `toml:"version"`
	Gateway      GatewayConfig      `toml:"gateway"`
	API          APIConfig          `toml:"api"`
	Client       ClientConfig       `toml:"client"`
	Storage      StorageConfig      `toml:"storage"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	EventStream  EventStreamConfig  `toml:"eventstream"`
	ToolServers  []ToolServerConfig `toml:"tool_servers"`
}

// GatewayConfig holds LLM gateway settings. The api key itself never lives in
// the config file; APIKeyEnv names the environment variable that carries it.
type GatewayConfig struct {
	Endpoint    string  `toml:"endpoint,omitempty"`
	Model       string  `toml:"model,omitempty"`
	APIKeyEnv   string  `toml:"api_key_env,omitempty"`
	Temperature float64 `toml:"temperature,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// gateway (e.g. switchboard chat). Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// StorageConfig holds conversation storage settings.
// Driver is one of "inmemory", "sqlite", "postgres".
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresURL string `toml:"postgres_url,omitempty"`
}

// OrchestratorConfig holds the tool-loop limits.
type OrchestratorConfig struct {
	MaxToolRounds      uint `toml:"max_tool_rounds,omitempty"`
	ToolConcurrency    uint `toml:"tool_concurrency,omitempty"`
	ToolTimeoutSeconds uint `toml:"tool_timeout_seconds,omitempty"`
}

// EventStreamConfig holds turn-event publishing settings.
// Provider is one of "nop", "kafka".
type EventStreamConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// ToolServerConfig describes one MCP tool server the gateway connects to at
// startup. Transport is one of "http", "stdio", "docker".
type ToolServerConfig struct {
	Name      string   `toml:"name"`
	Transport string   `toml:"transport"`
	Endpoint  string   `toml:"endpoint,omitempty"`
	Command   string   `toml:"command,omitempty"`
	Args      []string `toml:"args,omitempty"`
	Image     string   `toml:"docker_image,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
// Tool servers are array-of-table entries and are edited in the file directly,
// not through get/set.
var configKeys = map[string]configKeyInfo{
	"gateway.endpoint": {
		get: func(c *Config) string { return c.Gateway.Endpoint },
		set: func(c *Config, v string) error { c.Gateway.Endpoint = v; return nil },
	},
	"gateway.model": {
		get: func(c *Config) string { return c.Gateway.Model },
		set: func(c *Config, v string) error { c.Gateway.Model = v; return nil },
	},
	"gateway.api_key_env": {
		get: func(c *Config) string { return c.Gateway.APIKeyEnv },
		set: func(c *Config, v string) error { c.Gateway.APIKeyEnv = v; return nil },
	},
	"gateway.temperature": {
		get: func(c *Config) string {
			return strconv.FormatFloat(c.Gateway.Temperature, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for gateway.temperature: %w", err)
			}
			c.Gateway.Temperature = f
			return nil
		},
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_url": {
		get: func(c *Config) string { return c.Storage.PostgresURL },
		set: func(c *Config, v string) error { c.Storage.PostgresURL = v; return nil },
	},
	"orchestrator.max_tool_rounds": {
		get: func(c *Config) string { return formatUint(c.Orchestrator.MaxToolRounds) },
		set: func(c *Config, v string) error {
			n, err := parseUint(v, "orchestrator.max_tool_rounds")
			if err != nil {
				return err
			}
			c.Orchestrator.MaxToolRounds = n
			return nil
		},
	},
	"orchestrator.tool_concurrency": {
		get: func(c *Config) string { return formatUint(c.Orchestrator.ToolConcurrency) },
		set: func(c *Config, v string) error {
			n, err := parseUint(v, "orchestrator.tool_concurrency")
			if err != nil {
				return err
			}
			c.Orchestrator.ToolConcurrency = n
			return nil
		},
	},
	"orchestrator.tool_timeout_seconds": {
		get: func(c *Config) string { return formatUint(c.Orchestrator.ToolTimeoutSeconds) },
		set: func(c *Config, v string) error {
			n, err := parseUint(v, "orchestrator.tool_timeout_seconds")
			if err != nil {
				return err
			}
			c.Orchestrator.ToolTimeoutSeconds = n
			return nil
		},
	},
	"eventstream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error { c.EventStream.Provider = v; return nil },
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
}

func formatUint(n uint) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(n), 10)
}

func parseUint(v, key string) (uint, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return uint(n), nil
}
