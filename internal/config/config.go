// Package config loads the daemon configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text or json

	Engine  EngineConfig   `yaml:"engine"`
	Console ConsoleConfig  `yaml:"console"`
	HTTP    HTTPConfig     `yaml:"http"`
	Bridge  BridgeConfig   `yaml:"bridge"`
	Store   StoreConfig    `yaml:"store"`
	Scripts []ScriptConfig `yaml:"scripts"`
}

// EngineConfig sizes the scheduler. Task and subscription sizes are initial
// capacities that grow on demand; the queue size is a hard bound.
type EngineConfig struct {
	TaskListSize         int   `yaml:"task_list_size"`
	QueueSize            int   `yaml:"queue_size"`
	SubscriptionListSize int   `yaml:"subscription_list_size"`
	StatIntervalMs       int64 `yaml:"stat_interval_ms"` // 0 disables statistics emission
}

// ConsoleConfig controls the interactive shell on stdin/stdout.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// HTTPConfig controls the HTTP control surface.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// BridgeConfig controls the MQTT bridge. ClientName doubles as the outbound
// topic prefix on the broker; InboundPrefix is the broker-side subtree
// forwarded onto the bus with the prefix stripped.
type BridgeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Broker        string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientName    string `yaml:"client_name"`
	InboundPrefix string `yaml:"inbound_prefix"`
}

// StoreConfig controls the statistics archive.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // SQLite database path
}

// ScriptConfig registers one JavaScript task. Source and File are mutually
// exclusive; an IntervalMs of 0 registers the script without a periodic
// loop (subscriptions made during setup still fire).
type ScriptConfig struct {
	Name       string `yaml:"name"`
	IntervalMs int64  `yaml:"interval_ms"`
	Source     string `yaml:"source"`
	File       string `yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Engine: EngineConfig{
			TaskListSize:         16,
			QueueSize:            64,
			SubscriptionListSize: 32,
		},
		Console: ConsoleConfig{Enabled: true},
		HTTP:    HTTPConfig{Addr: ":8100"},
		Bridge:  BridgeConfig{InboundPrefix: "mu"},
		Store:   StoreConfig{Path: "muloop.db"},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Engine.QueueSize < 1 {
		return fmt.Errorf("engine.queue_size must be at least 1, got %d", c.Engine.QueueSize)
	}
	if c.Engine.StatIntervalMs < 0 {
		return fmt.Errorf("engine.stat_interval_ms must not be negative, got %d", c.Engine.StatIntervalMs)
	}
	if c.Bridge.Enabled && c.Bridge.Broker == "" {
		return fmt.Errorf("bridge.broker is required when the bridge is enabled")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required when the http surface is enabled")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	for i, s := range c.Scripts {
		if s.Name == "" {
			return fmt.Errorf("scripts[%d]: name is required", i)
		}
		if (s.Source == "") == (s.File == "") {
			return fmt.Errorf("script %q: exactly one of source or file is required", s.Name)
		}
		if s.IntervalMs < 0 {
			return fmt.Errorf("script %q: interval_ms must not be negative", s.Name)
		}
	}
	return nil
}
