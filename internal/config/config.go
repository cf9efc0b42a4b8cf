// Package config handles YAML configuration for wipeit.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "wipeit.yaml"

// Config is the root configuration structure.
type Config struct {
	AWS       AWSConfig       `yaml:"aws"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Deletion  DeletionConfig  `yaml:"deletion"`
	Storage   StorageConfig   `yaml:"storage"`
	Policy    PolicyConfig    `yaml:"policy"`
	Server    ServerConfig    `yaml:"server"`
	OTEL      OTELConfig      `yaml:"otel"`
	Log       LogConfig       `yaml:"log"`
}

// AWSConfig selects the credential profile and region.
type AWSConfig struct {
	Profile string `yaml:"profile"`
	Region  string `yaml:"region"`
}

// DiscoveryConfig holds inventory settings.
type DiscoveryConfig struct {
	// Timeout bounds each kind's discovery call.
	Timeout  time.Duration `yaml:"timeout"`
	TagSweep bool          `yaml:"tag_sweep"`
}

// DeletionConfig holds deletion settings.
type DeletionConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	Timeout         time.Duration `yaml:"timeout"`
	DetachTimeout   time.Duration `yaml:"detach_timeout"`
	BucketBatchSize int           `yaml:"bucket_batch_size"`
}

// StorageConfig locates the audit log and run history.
type StorageConfig struct {
	AuditDir    string `yaml:"audit_dir"`
	HistoryPath string `yaml:"history_path"`
}

// PolicyConfig points at an optional Rego protection policy.
type PolicyConfig struct {
	File string `yaml:"file"`
}

// ServerConfig holds HTTP front end settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled    bool `yaml:"enabled"`
	Prometheus bool `yaml:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file. A missing file at the default
// location yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultFile {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Discovery.Timeout == 0 {
		cfg.Discovery.Timeout = 2 * time.Minute
	}
	if cfg.Deletion.Concurrency == 0 {
		cfg.Deletion.Concurrency = 4
	}
	if cfg.Deletion.Timeout == 0 {
		cfg.Deletion.Timeout = 30 * time.Minute
	}
	if cfg.Deletion.DetachTimeout == 0 {
		cfg.Deletion.DetachTimeout = 5 * time.Minute
	}
	if cfg.Deletion.BucketBatchSize == 0 {
		cfg.Deletion.BucketBatchSize = 1000
	}
	if cfg.Storage.AuditDir == "" {
		cfg.Storage.AuditDir = filepath.Join(stateDir(), "audit")
	}
	if cfg.Storage.HistoryPath == "" {
		cfg.Storage.HistoryPath = filepath.Join(stateDir(), "history.db")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "wipeit"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wipeit"
	}
	return filepath.Join(home, ".wipeit")
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws: region is required")
	}
	if c.Discovery.Timeout < 0 {
		return fmt.Errorf("discovery: timeout must be positive (got %v)", c.Discovery.Timeout)
	}
	if c.Deletion.Concurrency < 1 {
		return fmt.Errorf("deletion: concurrency must be at least 1 (got %d)", c.Deletion.Concurrency)
	}
	if c.Deletion.Timeout < 0 || c.Deletion.DetachTimeout < 0 {
		return fmt.Errorf("deletion: timeouts must be positive")
	}
	if c.Deletion.BucketBatchSize < 1 || c.Deletion.BucketBatchSize > 1000 {
		return fmt.Errorf("deletion: bucket_batch_size must be between 1 and 1000 (got %d)", c.Deletion.BucketBatchSize)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log: format must be console or json (got %q)", c.Log.Format)
	}
	return nil
}
