// Package config loads scribe's yaml configuration from ~/.scribe/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"scribe/internal/paths"
)

type Config struct {
	Batching BatchingConfig `yaml:"batching"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Database DatabaseConfig `yaml:"database"`
	Debug    bool           `yaml:"debug"`
}

type BatchingConfig struct {
	BatchSize       int `yaml:"batch_size"`
	MaxQueueSize    int `yaml:"max_queue_size"`
	FlushIntervalMS int `yaml:"flush_interval_ms"`
}

type AnalyzerConfig struct {
	// Command is an external analyzer invoked per batch with JSON on
	// stdin. Empty means no analyzer runs.
	Command string `yaml:"command"`
}

type DatabaseConfig struct {
	// Path of the sqlite database. Empty keeps the default placement,
	// one database per monitor output directory. "none" disables
	// persistence entirely.
	Path string `yaml:"path"`
}

// FlushInterval returns the configured flush interval as a duration.
func (b BatchingConfig) FlushInterval() time.Duration {
	return time.Duration(b.FlushIntervalMS) * time.Millisecond
}

// Load reads the config from SCRIBE_CONFIG if set, otherwise from
// ~/.scribe/config.yaml. A missing file yields defaults with no error.
func Load() (*Config, error) {
	path := os.Getenv("SCRIBE_CONFIG")
	if path == "" {
		path = filepath.Join(paths.ConfigDir(), "config.yaml")
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from the given path. A missing file yields
// defaults with no error.
func LoadFrom(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Batching: BatchingConfig{
			BatchSize:       10,
			MaxQueueSize:    100,
			FlushIntervalMS: 30_000,
		},
	}
}

func applyEnv(cfg *Config) {
	if os.Getenv("SCRIBE_DEBUG") == "1" {
		cfg.Debug = true
	}
}

func (c *Config) validate() error {
	if c.Batching.BatchSize < 0 {
		return fmt.Errorf("batching.batch_size: must not be negative")
	}
	if c.Batching.MaxQueueSize < 0 {
		return fmt.Errorf("batching.max_queue_size: must not be negative")
	}
	if c.Batching.MaxQueueSize != 0 && c.Batching.BatchSize > c.Batching.MaxQueueSize {
		return fmt.Errorf("batching.batch_size (%d) exceeds max_queue_size (%d)",
			c.Batching.BatchSize, c.Batching.MaxQueueSize)
	}
	if c.Batching.FlushIntervalMS < 0 {
		return fmt.Errorf("batching.flush_interval_ms: must not be negative")
	}
	return nil
}
