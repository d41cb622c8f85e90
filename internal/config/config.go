// Package config provides configuration loading for the collector.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig holds per-source collection settings.
type SourceConfig struct {
	// MinDelay is the politeness delay between consecutive requests.
	MinDelay time.Duration `yaml:"min_delay"`

	// JitterMin/JitterMax bound the random jitter added on top of MinDelay.
	JitterMin time.Duration `yaml:"jitter_min"`
	JitterMax time.Duration `yaml:"jitter_max"`

	// MaxAttempts for the retry loop (default 3).
	MaxAttempts int `yaml:"max_attempts"`

	// BaseBackoff is the initial retry backoff (default 1s).
	BaseBackoff time.Duration `yaml:"base_backoff"`

	// Concurrency bounds parallel unit processing (default 1).
	Concurrency int `yaml:"concurrency"`

	// CostLimitBytes caps estimated query cost for metered backends (0 = no cap).
	CostLimitBytes int64 `yaml:"cost_limit_bytes"`

	// APIKeyEnv names the environment variable holding the source API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the source's default endpoint (used in tests).
	BaseURL string `yaml:"base_url"`
}

// StateConfig selects the watermark store backend.
type StateConfig struct {
	// Backend is "file" or "postgres".
	Backend string `yaml:"backend"`
	// Path is the state file location for the file backend.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

// ObjectStoreConfig holds optional MinIO/S3 sink settings.
type ObjectStoreConfig struct {
	EndpointURL     string `yaml:"endpoint_url"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	BasePrefix      string `yaml:"base_prefix"`
}

// Config is the top-level collector configuration.
type Config struct {
	// OutputDir is the bronze layer root directory.
	OutputDir string `yaml:"output_dir"`

	// RunDeadline bounds a whole collection run (0 = no deadline).
	RunDeadline time.Duration `yaml:"run_deadline"`

	State       StateConfig             `yaml:"state"`
	ObjectStore *ObjectStoreConfig      `yaml:"object_store"`
	Sources     map[string]SourceConfig `yaml:"sources"`
}

// Default returns a config with sensible defaults applied.
func Default() *Config {
	return &Config{
		OutputDir: getEnv("COLLECTOR_OUTPUT_DIR", "data/raw"),
		State: StateConfig{
			Backend: getEnv("COLLECTOR_STATE_BACKEND", "file"),
			Path:    getEnv("COLLECTOR_STATE_PATH", "data/state/collector_state.json"),
			DSN:     getEnv("COLLECTOR_STATE_DSN", ""),
		},
		Sources: make(map[string]SourceConfig),
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// path is empty, and applies environment overrides last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// Source returns the config block for a source ID with defaults filled in.
func (c *Config) Source(id string) SourceConfig {
	sc := c.Sources[id]
	if sc.MinDelay == 0 {
		sc.MinDelay = time.Second
	}
	if sc.MaxAttempts == 0 {
		sc.MaxAttempts = 3
	}
	if sc.BaseBackoff == 0 {
		sc.BaseBackoff = time.Second
	}
	if sc.Concurrency == 0 {
		sc.Concurrency = 1
	}
	return sc
}

func (c *Config) applyEnv() {
	if v := os.Getenv("COLLECTOR_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("COLLECTOR_STATE_BACKEND"); v != "" {
		c.State.Backend = v
	}
	if v := os.Getenv("COLLECTOR_STATE_PATH"); v != "" {
		c.State.Path = v
	}
	if v := os.Getenv("COLLECTOR_STATE_DSN"); v != "" {
		c.State.DSN = v
	}
	if c.ObjectStore != nil {
		if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
			c.ObjectStore.EndpointURL = v
		}
		if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
			c.ObjectStore.AccessKeyID = v
		}
		if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
			c.ObjectStore.SecretAccessKey = v
		}
		if v := os.Getenv("MINIO_BUCKET"); v != "" {
			c.ObjectStore.Bucket = v
		}
	}
}

func (c *Config) normalize() {
	if c.Sources == nil {
		c.Sources = make(map[string]SourceConfig)
	}
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
