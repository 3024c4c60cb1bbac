// Package config loads the application configuration from environment
// variables (KURO_ prefix) layered over an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Tracing  TracingConfig  `yaml:"tracing" envconfig:"TRACING"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// StoreConfig selects and configures the ledger store backend.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend     string `yaml:"backend" envconfig:"BACKEND" default:"memory"`
	RedisURL    string `yaml:"redis_url" envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisPrefix string `yaml:"redis_prefix" envconfig:"REDIS_PREFIX" default:"kuropanel:"`
}

// SecurityConfig contains request-level protections.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig bounds request throughput on the validation endpoints.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/kuropanel.log"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	SampleRate float64 `yaml:"sample_rate" envconfig:"SAMPLE_RATE" default:"1.0"`
}

// Load reads configuration: environment first, then an optional YAML file
// pointed at by KURO_CONFIG_FILE (default kuropanel.yml) fills the gaps.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("KURO", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	path := os.Getenv("KURO_CONFIG_FILE")
	if path == "" {
		path = "kuropanel.yml"
	}
	if _, err := os.Stat(path); err == nil {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		cfg = merge(*fileCfg, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays file values onto the env-derived config: a field set in
// the file wins, everything else keeps the env value or its default.
func merge(file, env Config) Config {
	out := env
	if file.Server.Port != 0 {
		out.Server.Port = file.Server.Port
	}
	if file.Store.Backend != "" {
		out.Store.Backend = file.Store.Backend
	}
	if file.Store.RedisURL != "" {
		out.Store.RedisURL = file.Store.RedisURL
	}
	if file.Store.RedisPrefix != "" {
		out.Store.RedisPrefix = file.Store.RedisPrefix
	}
	if file.Logging.Level != "" {
		out.Logging.Level = file.Logging.Level
	}
	if file.Logging.Format != "" {
		out.Logging.Format = file.Logging.Format
	}
	if file.Logging.Output != "" {
		out.Logging.Output = file.Logging.Output
	}
	if file.Logging.FilePath != "" {
		out.Logging.FilePath = file.Logging.FilePath
	}
	if file.Security.RateLimit.RPS != 0 {
		out.Security.RateLimit = file.Security.RateLimit
	}
	if file.Tracing.SampleRate != 0 {
		out.Tracing = file.Tracing
	}
	return out
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive, got %v", c.Security.RateLimit.RPS)
	}
	return nil
}
