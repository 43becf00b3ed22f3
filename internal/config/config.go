// Package config loads kbchat configuration from ~/.kbchat/config.yaml with
// environment overrides. A missing file yields the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all kbchat settings.
type Config struct {
	// Server is the remote knowledge service.
	Server ServerConfig `yaml:"server"`

	// Documents configures the indexing status poller.
	Documents DocumentsConfig `yaml:"documents"`

	// Logging configures the zap logger.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig points the client at the service.
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// DocumentsConfig configures document handling.
type DocumentsConfig struct {
	PollInterval string `yaml:"poll_interval"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	// File enables rotated file output when set; empty logs to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: "30s",
		},
		Documents: DocumentsConfig{
			PollInterval: "2s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// DefaultPath returns ~/.kbchat/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kbchat", "config.yaml"), nil
}

// Load reads the config file at path, layering file values over defaults
// and environment variables over both. A missing file is not an error.
func Load(path string) (*Config, error) {
	// Pick up a local .env if present; real env vars win.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if _, err := cfg.RequestTimeout(); err != nil {
		return nil, err
	}
	if _, err := cfg.PollInterval(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KBCHAT_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("KBCHAT_TIMEOUT"); v != "" {
		c.Server.Timeout = v
	}
	if v := os.Getenv("KBCHAT_POLL_INTERVAL"); v != "" {
		c.Documents.PollInterval = v
	}
	if v := os.Getenv("KBCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KBCHAT_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// RequestTimeout parses the HTTP timeout.
func (c *Config) RequestTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid server.timeout %q: %w", c.Server.Timeout, err)
	}
	return d, nil
}

// PollInterval parses the document status poll interval.
func (c *Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Documents.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("config: invalid documents.poll_interval %q: %w", c.Documents.PollInterval, err)
	}
	return d, nil
}
