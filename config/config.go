// Package config loads and validates the runtime configuration: governance
// defaults, persistence backends, scheduler tuning, and logging. Files are
// YAML; every recognized option can also be overridden through OAO_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/yashsham/open-agent-orchestrator/policy"
)

// Backend selects a persistence implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// LogConfig controls the runtime's logging output.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // console or json
}

// Config is the full runtime configuration.
type Config struct {
	// Policy holds the default governance budgets applied to executions
	// submitted without an explicit policy.
	Policy policy.Config `yaml:"policy" json:"policy"`

	PersistenceBackend Backend `yaml:"persistence_backend" json:"persistence_backend"`
	EventStoreBackend  Backend `yaml:"event_store_backend" json:"event_store_backend"`
	RedisURL           string  `yaml:"redis_url" json:"redis_url"`

	// WorkerTimeout is the heartbeat horizon after which a worker is
	// considered dead and its claims are requeued.
	WorkerTimeout time.Duration `yaml:"worker_timeout" json:"worker_timeout"`

	// EventRetention is how long event histories are kept.
	EventRetention time.Duration `yaml:"event_retention" json:"event_retention"`

	// MaxConcurrency bounds parallel node execution in the DAG executor.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// Listen is the address of the event stream and metrics server.
	Listen string `yaml:"listen" json:"listen"`

	Log LogConfig `yaml:"log" json:"log"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		PersistenceBackend: BackendMemory,
		EventStoreBackend:  BackendMemory,
		RedisURL:           "redis://localhost:6379/0",
		WorkerTimeout:      30 * time.Second,
		EventRetention:     7 * 24 * time.Hour,
		MaxConcurrency:     3,
		Listen:             ":8420",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML configuration file, applies environment overrides, and
// validates the result. An empty path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from OAO_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OAO_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("OAO_PERSISTENCE_BACKEND"); v != "" {
		c.PersistenceBackend = Backend(v)
	}
	if v := os.Getenv("OAO_EVENT_STORE_BACKEND"); v != "" {
		c.EventStoreBackend = Backend(v)
	}
	if v := os.Getenv("OAO_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("OAO_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("OAO_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("OAO_WORKER_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			c.WorkerTimeout = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("OAO_EVENT_RETENTION_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			c.EventRetention = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("OAO_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxConcurrency = n
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.PersistenceBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown persistence_backend: %s", c.PersistenceBackend)
	}
	switch c.EventStoreBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown event_store_backend: %s", c.EventStoreBackend)
	}
	if (c.PersistenceBackend == BackendRedis || c.EventStoreBackend == BackendRedis) && c.RedisURL == "" {
		return fmt.Errorf("redis_url is required for the redis backend")
	}
	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("worker_timeout must be positive")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	return nil
}
