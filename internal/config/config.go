package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration parameters
type Config struct {
	RootID     string `json:"root_id" yaml:"root_id"`
	Workers    int    `json:"workers" yaml:"workers"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	Frontier      string `json:"frontier" yaml:"frontier"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisPrefix   string `json:"redis_prefix" yaml:"redis_prefix"`

	DBDriver string `json:"db_driver" yaml:"db_driver"`
	DBDSN    string `json:"db_dsn" yaml:"db_dsn"`

	APIBaseURL        string  `json:"api_base_url" yaml:"api_base_url"`
	TokenFile         string  `json:"token_file" yaml:"token_file"`
	UserAgent         string  `json:"user_agent" yaml:"user_agent"`
	RequestTimeoutMs  int     `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	PageSize          int     `json:"page_size" yaml:"page_size"`

	PollIntervalMs     int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	WriterIdleMs       int    `json:"writer_idle_ms" yaml:"writer_idle_ms"`
	ProgressIntervalMs int    `json:"progress_interval_ms" yaml:"progress_interval_ms"`
	MetricsPath        string `json:"metrics_path" yaml:"metrics_path"`
	LogLevel           string `json:"log_level" yaml:"log_level"`
}

// Frontier backends
const (
	FrontierRedis  = "redis"
	FrontierMemory = "memory"
)

// LoadConfig reads and validates configuration from a JSON or YAML file,
// chosen by extension
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.Workers == 0 {
		cfg.Workers = 12
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:9981"
	}
	if cfg.Frontier == "" {
		cfg.Frontier = FrontierRedis
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "127.0.0.1:6379"
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite3"
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = "db.sqlite3"
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = "token.txt"
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 10000
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 20
	}
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = 1000
	}
	if cfg.WriterIdleMs == 0 {
		cfg.WriterIdleMs = 1000
	}
	if cfg.ProgressIntervalMs == 0 {
		cfg.ProgressIntervalMs = 10000
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.log"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	var err error
	if cfg.RootID == "" {
		err = multierror.Append(err, fmt.Errorf("root_id is required"))
	}
	if cfg.APIBaseURL == "" {
		err = multierror.Append(err, fmt.Errorf("api_base_url is required"))
	}
	if cfg.Workers < 1 {
		err = multierror.Append(err, fmt.Errorf("workers must be >= 1"))
	}
	if cfg.Frontier != FrontierRedis && cfg.Frontier != FrontierMemory {
		err = multierror.Append(err, fmt.Errorf("frontier must be %q or %q", FrontierRedis, FrontierMemory))
	}
	if cfg.RequestTimeoutMs < 1000 {
		err = multierror.Append(err, fmt.Errorf("request_timeout_ms must be >= 1000"))
	}
	if cfg.RequestsPerSecond < 0 {
		err = multierror.Append(err, fmt.Errorf("requests_per_second must be >= 0"))
	}
	if cfg.PageSize < 1 {
		err = multierror.Append(err, fmt.Errorf("page_size must be >= 1"))
	}
	return err
}

// RequestTimeout returns the request timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// PollInterval returns the state polling interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// WriterIdle returns the writer idle sleep as a duration
func (c *Config) WriterIdle() time.Duration {
	return time.Duration(c.WriterIdleMs) * time.Millisecond
}

// ProgressInterval returns the progress log period as a duration
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}
