/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the service's YAML configuration,
// with environment-variable overrides and an optional hot-reload watch.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// InsecureDefaultSalt is shipped so the service boots in a fresh
// environment; the server logs a startup warning whenever it is still in
// effect (see UsingInsecureSalt).
const InsecureDefaultSalt = "change-me-insecure-default-salt"

var defaultEntryCommands = []string{
	"init", "login", "setup", "config", "create", "new", "start", "begin", "configure",
}

var defaultTerminalCommands = []string{
	"deploy", "apply", "release", "publish", "scan", "test", "build", "push", "run", "execute",
}

// DatabaseConfig holds the connection pool sizing named in the concurrency
// model: 5 base connections plus 10 overflow, pre-ping enabled.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// ServerConfig holds HTTP-transport timeouts and bind address.
type ServerConfig struct {
	Port                   string `yaml:"port"`
	RequestTimeoutSeconds  int    `yaml:"request_timeout_seconds"`
	InferTimeoutSeconds    int    `yaml:"infer_timeout_seconds"`
}

// InferenceConfig holds the sessionization/workflow parameters, including
// the entry/terminal command vocabularies tenants can override per
// deployment.
type InferenceConfig struct {
	SessionTimeoutMinutes int      `yaml:"session_timeout_minutes"`
	EntryCommands         []string `yaml:"entry_commands"`
	TerminalCommands      []string `yaml:"terminal_commands"`
	FetchBatchSize        int      `yaml:"fetch_batch_size"`
}

// IngestConfig bounds a single ingestion request.
type IngestConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

// LoggingConfig selects zap's level. Format defaults to "json" but is not
// read when the server builds its logger; the encoder is always zap's
// production JSON encoder.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig points at the optional distributed-lock backend. An empty
// URL leaves the inference engine running with a nil lock client, which
// degrades the short-circuit to "always acquired" rather than failing.
type RedisConfig struct {
	URL            string `yaml:"url"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// Config is the service's full runtime configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	HashSalt  string          `yaml:"hash_salt"`
}

// Load reads path, applies defaults for unset fields, applies environment
// overrides, validates, and returns the resulting Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 15
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 30
	}
	if cfg.Server.InferTimeoutSeconds == 0 {
		cfg.Server.InferTimeoutSeconds = 60
	}
	if cfg.Inference.SessionTimeoutMinutes == 0 {
		cfg.Inference.SessionTimeoutMinutes = 30
	}
	if len(cfg.Inference.EntryCommands) == 0 {
		cfg.Inference.EntryCommands = defaultEntryCommands
	}
	if len(cfg.Inference.TerminalCommands) == 0 {
		cfg.Inference.TerminalCommands = defaultTerminalCommands
	}
	if cfg.Inference.FetchBatchSize == 0 {
		cfg.Inference.FetchBatchSize = 10000
	}
	if cfg.Ingest.MaxBatchSize == 0 {
		cfg.Ingest.MaxBatchSize = 1000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.HashSalt == "" {
		cfg.HashSalt = InsecureDefaultSalt
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 30
	}
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("HASH_SALT"); v != "" {
		cfg.HashSalt = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SESSION_TIMEOUT_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse SESSION_TIMEOUT_MINUTES: %w", err)
		}
		cfg.Inference.SessionTimeoutMinutes = minutes
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.Inference.SessionTimeoutMinutes < 0 {
		return fmt.Errorf("session timeout minutes must be non-negative")
	}
	if cfg.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be greater than 0")
	}
	if cfg.Ingest.MaxBatchSize > 1000 {
		return fmt.Errorf("max batch size must not exceed 1000")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", cfg.Logging.Level)
	}
	return nil
}

// UsingInsecureSalt reports whether the shipped development salt is still
// in effect, so the caller can log a startup warning.
func (c *Config) UsingInsecureSalt() bool {
	return c.HashSalt == InsecureDefaultSalt
}
