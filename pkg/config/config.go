package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/burrow-io/burrow/pkg/types"
)

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StateConfig selects and parameterises the state provider.
type StateConfig struct {
	// Provider is one of "memory", "file", "bolt", "redis".
	Provider string `yaml:"provider"`
	// Dir is the root directory for the file and bolt providers.
	Dir string `yaml:"dir"`
	// Addr is the redis address for the redis provider.
	Addr string `yaml:"addr"`
}

// Config is the full configuration surface of a Burrow node. Every tunable
// has a default; zero values are replaced by Default() values on Load.
type Config struct {
	// Node identity and transport endpoints.
	NodeID        string `yaml:"node_id"`
	NodeName      string `yaml:"node_name"`
	Listen        string `yaml:"listen"`
	MetricsListen string `yaml:"metrics_listen"`
	// Coordinator endpoint a worker registers with.
	Coordinator string `yaml:"coordinator"`

	MaxAgents     int                  `yaml:"max_agents"`
	DefaultLimits types.ResourceLimits `yaml:"default_limits"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	StateSaveInterval   time.Duration `yaml:"state_save_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout    time.Duration `yaml:"heartbeat_timeout"`
	NodeCheckInterval   time.Duration `yaml:"node_check_interval"`

	WarningThreshold  float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`

	ResponseTimeWarning  time.Duration `yaml:"response_time_warning"`
	ResponseTimeCritical time.Duration `yaml:"response_time_critical"`

	MetricsFlushInterval time.Duration `yaml:"metrics_flush_interval"`

	Log   LogConfig   `yaml:"log"`
	State StateConfig `yaml:"state"`
}

// Default returns the configuration with every tunable at its default.
func Default() *Config {
	return &Config{
		Listen:        ":7411",
		MetricsListen: ":9411",
		MaxAgents:     100,
		DefaultLimits: types.ResourceLimits{
			MaxMemoryMB:          1024,
			MaxCPUPercent:        50,
			MaxRequestsPerMinute: 120,
		},
		HealthCheckInterval:  60 * time.Second,
		StateSaveInterval:    300 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		HeartbeatTimeout:     30 * time.Second,
		NodeCheckInterval:    10 * time.Second,
		WarningThreshold:     0.8,
		CriticalThreshold:    0.95,
		ResponseTimeWarning:  2000 * time.Millisecond,
		ResponseTimeCritical: 5000 * time.Millisecond,
		MetricsFlushInterval: 60 * time.Second,
		Log:                  LogConfig{Level: "info"},
		State:                StateConfig{Provider: "memory"},
	}
}

// Load reads a yaml config file and overlays it on the defaults. A missing
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults restores defaults for tunables the file set to zero.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.MetricsListen == "" {
		c.MetricsListen = d.MetricsListen
	}
	if c.MaxAgents == 0 {
		c.MaxAgents = d.MaxAgents
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.StateSaveInterval == 0 {
		c.StateSaveInterval = d.StateSaveInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.NodeCheckInterval == 0 {
		c.NodeCheckInterval = d.NodeCheckInterval
	}
	if c.WarningThreshold == 0 {
		c.WarningThreshold = d.WarningThreshold
	}
	if c.CriticalThreshold == 0 {
		c.CriticalThreshold = d.CriticalThreshold
	}
	if c.ResponseTimeWarning == 0 {
		c.ResponseTimeWarning = d.ResponseTimeWarning
	}
	if c.ResponseTimeCritical == 0 {
		c.ResponseTimeCritical = d.ResponseTimeCritical
	}
	if c.MetricsFlushInterval == 0 {
		c.MetricsFlushInterval = d.MetricsFlushInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.State.Provider == "" {
		c.State.Provider = d.State.Provider
	}
}
