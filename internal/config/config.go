// ABOUTME: Configuration loading and parsing for agentstate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage backend names.
const (
	BackendMemory        = "memory"
	BackendJSON          = "json"
	BackendEncrypted     = "encrypted"
	BackendSQLite        = "sqlite"
	BackendSQLiteHistory = "sqlite_history"
	BackendRedis         = "redis"
)

// Default file locations, relative to the working directory.
const (
	DefaultJSONPath   = ".agent_state.json"
	DefaultSQLitePath = ".agent_state.db"
)

// Config represents the complete agentstate configuration
type Config struct {
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	Redis   RedisConfig   `yaml:"redis" toml:"redis"`
	Engine  EngineConfig  `yaml:"engine" toml:"engine"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// StorageConfig selects and parameterizes the storage backend
type StorageConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	Path          string `yaml:"path" toml:"path"`
	Password      string `yaml:"password" toml:"password"`
	Cipher        string `yaml:"cipher" toml:"cipher"`
	KDFIterations int    `yaml:"kdf_iterations" toml:"kdf_iterations"`
	MaxHistory    int    `yaml:"max_history" toml:"max_history"`
	SQLiteDriver  string `yaml:"sqlite_driver" toml:"sqlite_driver"`

	BusyTimeout    time.Duration `yaml:"-" toml:"-"`
	BusyTimeoutRaw string        `yaml:"busy_timeout" toml:"busy_timeout"`
}

// RedisConfig holds connection settings for the redis backend
type RedisConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Password  string `yaml:"password" toml:"password"`
	DB        int    `yaml:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// EngineConfig holds phase transition rules
type EngineConfig struct {
	// SingleActivePhase rejects starting a phase while another is in progress.
	SingleActivePhase bool `yaml:"single_active_phase" toml:"single_active_phase"`
	// AutoAdvance starts the next pending phase when one completes.
	AutoAdvance bool `yaml:"auto_advance" toml:"auto_advance"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	// IdempotencyTTL is how long Idempotency-Key values are remembered; 0 disables.
	IdempotencyTTL    time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTLRaw string        `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			Backend:        BackendJSON,
			Cipher:         "aes-256-gcm",
			KDFIterations:  480000,
			MaxHistory:     1000,
			SQLiteDriver:   "sqlite",
			BusyTimeout:    5 * time.Second,
			BusyTimeoutRaw: "5s",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "agentstate:",
		},
		Engine: EngineConfig{
			SingleActivePhase: true,
			AutoAdvance:       true,
		},
		Server: ServerConfig{
			HTTPAddr:          "127.0.0.1:8420",
			IdempotencyTTL:    10 * time.Minute,
			IdempotencyTTLRaw: "10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML. Keys absent from
// the file keep their defaults. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	cfg.Storage.Path = ""
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Override replaces the storage backend and path, as command-line flags do, and
// revalidates. Switching backends without a path picks the new backend's default path.
func (c *Config) Override(backend, path string) error {
	if backend != "" && backend != c.Storage.Backend {
		c.Storage.Backend = backend
		c.Storage.Path = ""
	}
	if path != "" {
		c.Storage.Path = path
	}
	c.applyDefaults()
	return c.Validate()
}

// applyDefaults fills values whose default depends on other settings.
func (c *Config) applyDefaults() {
	if c.Storage.Path == "" {
		switch c.Storage.Backend {
		case BackendSQLite, BackendSQLiteHistory:
			c.Storage.Path = DefaultSQLitePath
		case BackendJSON, BackendEncrypted:
			c.Storage.Path = DefaultJSONPath
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	case BackendJSON, BackendEncrypted, BackendSQLite, BackendSQLiteHistory:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, json, encrypted, sqlite, sqlite_history, redis", c.Storage.Backend)
	}

	if c.Storage.Backend == BackendEncrypted {
		if c.Storage.Password == "" {
			return fmt.Errorf("storage.password is required for the encrypted backend")
		}
		if c.Storage.Cipher != "aes-256-gcm" && c.Storage.Cipher != "xchacha20-poly1305" {
			return fmt.Errorf("storage.cipher %q is not one of aes-256-gcm, xchacha20-poly1305", c.Storage.Cipher)
		}
		if c.Storage.KDFIterations < 1 {
			return fmt.Errorf("storage.kdf_iterations must be positive")
		}
	}

	if c.Storage.MaxHistory < 1 {
		return fmt.Errorf("storage.max_history must be at least 1")
	}
	if c.Storage.SQLiteDriver != "sqlite" && c.Storage.SQLiteDriver != "sqlite3" {
		return fmt.Errorf("storage.sqlite_driver %q is not one of sqlite, sqlite3", c.Storage.SQLiteDriver)
	}
	if c.Storage.BusyTimeout < 0 {
		return fmt.Errorf("storage.busy_timeout must not be negative")
	}

	if c.Storage.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis backend")
	}
	if c.Redis.TTL < 0 {
		return fmt.Errorf("redis.ttl must not be negative")
	}

	if c.Server.IdempotencyTTL < 0 {
		return fmt.Errorf("server.idempotency_ttl must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Storage.BusyTimeoutRaw != "" {
		cfg.Storage.BusyTimeout, err = time.ParseDuration(cfg.Storage.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Storage.BusyTimeoutRaw, err)
		}
	}

	if cfg.Redis.TTLRaw != "" {
		cfg.Redis.TTL, err = time.ParseDuration(cfg.Redis.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", cfg.Redis.TTLRaw, err)
		}
	}

	if cfg.Server.IdempotencyTTLRaw != "" {
		cfg.Server.IdempotencyTTL, err = time.ParseDuration(cfg.Server.IdempotencyTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idempotency_ttl %q: %w", cfg.Server.IdempotencyTTLRaw, err)
		}
	}

	return nil
}
