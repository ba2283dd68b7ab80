// Package config loads and validates the offline layer configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the top-level configuration for the offline sync layer.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig configures the local action store.
type DatabaseConfig struct {
	// DataDir is the directory holding the SQLite database file.
	DataDir string `yaml:"data_dir"`
}

// RemoteConfig configures the shore-side API the executor replays against.
type RemoteConfig struct {
	// BaseURL is the root of the remote API, e.g. https://api.flowmarine.example.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single remote apply attempt.
	Timeout Duration `yaml:"timeout"`
}

// SyncConfig configures the scheduler and retry policy.
type SyncConfig struct {
	// Interval is the periodic sync cadence while online.
	Interval Duration `yaml:"interval"`

	// ProbeInterval is the connectivity probe cadence.
	ProbeInterval Duration `yaml:"probe_interval"`

	// DefaultMaxRetries applies to actions enqueued without an explicit ceiling.
	DefaultMaxRetries int `yaml:"default_max_retries"`

	// Retention is the age past which synced actions are purged.
	Retention Duration `yaml:"retention"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{DataDir: "data"},
		Remote: RemoteConfig{
			Timeout: Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			Interval:          Duration(30 * time.Second),
			ProbeInterval:     Duration(15 * time.Second),
			DefaultMaxRetries: 3,
			Retention:         Duration(7 * 24 * time.Hour),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file and applies defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Database.DataDir == "" {
		c.Database.DataDir = def.Database.DataDir
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = def.Remote.Timeout
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = def.Sync.Interval
	}
	if c.Sync.ProbeInterval <= 0 {
		c.Sync.ProbeInterval = def.Sync.ProbeInterval
	}
	if c.Sync.DefaultMaxRetries <= 0 {
		c.Sync.DefaultMaxRetries = def.Sync.DefaultMaxRetries
	}
	if c.Sync.Retention <= 0 {
		c.Sync.Retention = def.Sync.Retention
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	return nil
}
