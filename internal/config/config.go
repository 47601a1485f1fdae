// Package config loads the daemon's file configuration. Delivery
// settings (relay host, credentials, rate cap) live in the database;
// this file only covers paths, listeners and worker policy.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Storage Storage `yaml:"storage"`
	API     API     `yaml:"api"`
	Worker  Worker  `yaml:"worker"`
	Metrics Metrics `yaml:"metrics"`
	Logging Logging `yaml:"logging"`
}

// Storage contains the on-disk paths
type Storage struct {
	DatabasePath string `yaml:"database_path"` // SQLite database
	KeyFile      string `yaml:"key_file"`      // secret store key
	RateDBPath   string `yaml:"rate_db_path"`  // rate window persistence
}

// API contains HTTP API settings
type API struct {
	ListenAddr   string        `yaml:"listen_addr"`
	APIKey       string        `yaml:"api_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Worker contains delivery worker policy
type Worker struct {
	CycleInterval     time.Duration `yaml:"cycle_interval"`      // how often cycles run
	RetryBase         time.Duration `yaml:"retry_base"`          // first retry delay
	RetryCap          time.Duration `yaml:"retry_cap"`           // retry delay ceiling
	FailFastPermanent *bool         `yaml:"fail_fast_permanent"` // fail on first 5xx (default true)
	LogRetentionDays  int           `yaml:"log_retention_days"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	RateFlushInterval time.Duration `yaml:"rate_flush_interval"`
}

// Metrics contains Prometheus metrics settings
type Metrics struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// Logging contains logging settings
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, used when
// no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "/var/lib/flexmaild/mail.db"
	}
	if c.Storage.KeyFile == "" {
		c.Storage.KeyFile = "/var/lib/flexmaild/secret.key"
	}
	if c.Storage.RateDBPath == "" {
		c.Storage.RateDBPath = "/var/lib/flexmaild/rate.db"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Worker.CycleInterval == 0 {
		c.Worker.CycleInterval = time.Minute
	}
	if c.Worker.RetryBase == 0 {
		c.Worker.RetryBase = 5 * time.Minute
	}
	if c.Worker.RetryCap == 0 {
		c.Worker.RetryCap = time.Hour
	}
	if c.Worker.FailFastPermanent == nil {
		failFast := true
		c.Worker.FailFastPermanent = &failFast
	}
	if c.Worker.LogRetentionDays == 0 {
		c.Worker.LogRetentionDays = 30
	}
	if c.Worker.CleanupInterval == 0 {
		c.Worker.CleanupInterval = time.Hour
	}
	if c.Worker.RateFlushInterval == 0 {
		c.Worker.RateFlushInterval = 10 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Worker.RetryBase > c.Worker.RetryCap {
		return fmt.Errorf("retry_base (%s) must not exceed retry_cap (%s)",
			c.Worker.RetryBase, c.Worker.RetryCap)
	}
	if c.Worker.LogRetentionDays < 0 {
		return fmt.Errorf("log_retention_days must not be negative")
	}

	return nil
}

// FailFast reports whether the worker fails items on their first
// permanent rejection.
func (c *Config) FailFast() bool {
	return c.Worker.FailFastPermanent == nil || *c.Worker.FailFastPermanent
}
