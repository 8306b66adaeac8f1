package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Hermes   HermesConfig   `yaml:"hermes"`
	DataAPI  UpstreamConfig `yaml:"dataapi"`
	Scoring  UpstreamConfig `yaml:"scoring"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
	RateLimit   int    `yaml:"rate_limit_per_minute"`
}

// DatabaseConfig selects the persistence backend: "memory", "sqlite" (Path)
// or "postgres" (URL).
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	Path   string `yaml:"path"`
}

// HermesConfig points at NATS. An empty URL disables events.
type HermesConfig struct {
	URL string `yaml:"url"`
}

type UpstreamConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutMs) * time.Millisecond
}

type EngineConfig struct {
	DefaultPercentile float64 `yaml:"default_percentile"`
	StrictRanking     bool    `yaml:"strict_ranking"`
	LookupTimeoutMs   int     `yaml:"lookup_timeout_ms"`
	// SessionTTLMinutes closes sessions idle for longer; 0 keeps them.
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Engine.LookupTimeoutMs) * time.Millisecond
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Engine.SessionTTLMinutes) * time.Minute
}

// Load builds the config from defaults, the optional YAML file at path, an
// optional .env file and MASHUP_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
			RateLimit:   120,
		},
		Database: DatabaseConfig{
			Driver: "memory",
			Path:   "mashup.db",
		},
		DataAPI: UpstreamConfig{
			URL:       "http://localhost:5000",
			TimeoutMs: 10000,
		},
		Scoring: UpstreamConfig{
			URL:       "http://localhost:5000",
			TimeoutMs: 60000,
		},
		Engine: EngineConfig{
			DefaultPercentile: 0.25,
			StrictRanking:     true,
			LookupTimeoutMs:   10000,
			SessionTTLMinutes: 120,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver %q", c.Database.Driver)
	}
	if c.Engine.DefaultPercentile < 0 || c.Engine.DefaultPercentile > 1 {
		return fmt.Errorf("engine.default_percentile %v outside [0, 1]", c.Engine.DefaultPercentile)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MASHUP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("MASHUP_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("MASHUP_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("MASHUP_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("MASHUP_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("MASHUP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MASHUP_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("MASHUP_DATAAPI_URL"); v != "" {
		cfg.DataAPI.URL = v
	}
	if v := os.Getenv("MASHUP_SCORING_URL"); v != "" {
		cfg.Scoring.URL = v
	}
	if v := os.Getenv("MASHUP_DEFAULT_PERCENTILE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.DefaultPercentile = f
		}
	}
	if v := os.Getenv("MASHUP_STRICT_RANKING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.StrictRanking = b
		}
	}
	if v := os.Getenv("MASHUP_LOOKUP_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.LookupTimeoutMs = n
		}
	}
	if v := os.Getenv("MASHUP_SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.SessionTTLMinutes = n
		}
	}
	if v := os.Getenv("MASHUP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MASHUP_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}
