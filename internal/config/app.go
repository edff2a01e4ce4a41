package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/pairsrun/internal/infrastructure/db"
)

// AppConfig is the process-level configuration: where things live, not how
// the strategy behaves. Strategy settings come from a Provider.
type AppConfig struct {
	Database  db.Config       `yaml:"database"`
	Redis     RedisSection    `yaml:"redis"`
	Settings  SettingsSource  `yaml:"settings"`
	Analyzer  ServiceConfig   `yaml:"analyzer"`
	Exchange  ServiceConfig   `yaml:"exchange"`
	NATS      NATSSection     `yaml:"nats"`
	HTTP      HTTPSection     `yaml:"http"`
	Logging   LoggingSection  `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// RedisSection holds the Redis connection used for settings and the candle cache
type RedisSection struct {
	Addr             string `yaml:"addr"`
	DB               int    `yaml:"db"`
	CandleTTLSeconds int    `yaml:"candle_ttl_seconds"`
	SettingsKey      string `yaml:"settings_key"`
}

// SettingsSource picks where strategy settings are read from
type SettingsSource struct {
	Source string `yaml:"source"` // "file", "redis" or "default"
	Path   string `yaml:"path"`
}

// ServiceConfig describes an HTTP collaborator
type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	Circuit CircuitConfig `yaml:"circuit"`
}

// CircuitConfig configures the breaker in front of a collaborator
type CircuitConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// NATSSection configures the position event stream
type NATSSection struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// HTTPSection configures the read-only API
type HTTPSection struct {
	Addr string `yaml:"addr"`
}

// LoggingSection configures zerolog output
type LoggingSection struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SchedulerConfig configures the periodic jobs
type SchedulerConfig struct {
	UpdateInterval    time.Duration `yaml:"update_interval"`
	SelectionInterval time.Duration `yaml:"selection_interval"`
}

// DefaultAppConfig returns a configuration that runs without external services
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: db.DefaultConfig(),
		Redis:    RedisSection{CandleTTLSeconds: 60, SettingsKey: DefaultSettingsKey},
		Settings: SettingsSource{Source: "default"},
		Analyzer: defaultService(),
		Exchange: defaultService(),
		NATS:     NATSSection{SubjectPrefix: "pairsrun.positions"},
		HTTP:     HTTPSection{Addr: "127.0.0.1:8080"},
		Logging:  LoggingSection{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Scheduler: SchedulerConfig{
			UpdateInterval:    time.Minute,
			SelectionInterval: 15 * time.Minute,
		},
	}
}

func defaultService() ServiceConfig {
	return ServiceConfig{
		Timeout: 30 * time.Second,
		RPS:     5,
		Burst:   10,
		Circuit: CircuitConfig{ConsecutiveFailures: 3, OpenTimeout: 60 * time.Second},
	}
}

// LoadAppConfig loads the YAML file (if it exists) over the defaults, then
// applies environment overrides
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	db.ApplyEnvOverrides(&cfg.Database)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ANALYZER_URL"); v != "" {
		cfg.Analyzer.BaseURL = v
	}
	if v := os.Getenv("EXCHANGE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks cross-field consistency
func (c *AppConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	switch c.Settings.Source {
	case "", "default":
	case "file":
		if c.Settings.Path == "" {
			return fmt.Errorf("settings.path is required when settings.source is file")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when settings.source is redis")
		}
	default:
		return fmt.Errorf("unknown settings.source %q", c.Settings.Source)
	}
	if c.Scheduler.UpdateInterval <= 0 {
		return fmt.Errorf("scheduler.update_interval must be positive")
	}
	if c.Scheduler.SelectionInterval <= 0 {
		return fmt.Errorf("scheduler.selection_interval must be positive")
	}
	return nil
}
