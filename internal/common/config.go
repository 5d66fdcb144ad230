// Package common provides shared utilities for the PII scan service.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the PII scan service.
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Scan        ScanConfig     `toml:"scan"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig holds control API HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds Result Store configuration.
type StorageConfig struct {
	// DBPath is the path to the SQLite database file backing the Result Store.
	DBPath string `toml:"db_path"`
}

// ScanConfig holds the tunables exposed via PII_* environment variables (spec §6).
type ScanConfig struct {
	DataPath      string  `toml:"data_path"`
	Workers       int     `toml:"workers"`        // 0 means auto-sized
	BatchSize     int     `toml:"batch_size"`
	Threshold     float64 `toml:"threshold"`
	FileSizeLimit int64   `toml:"file_size_limit_mb"` // MiB, converted to bytes by FileSizeLimitBytes
}

// FileSizeLimitBytes returns the configured per-file size limit in bytes.
func (c *ScanConfig) FileSizeLimitBytes() int64 {
	return c.FileSizeLimit * 1024 * 1024
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with the defaults from spec §6.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			DBPath: "/app/db/pii_results.db",
		},
		Scan: ScanConfig{
			DataPath:      "/data",
			Workers:       0,
			BatchSize:     50,
			Threshold:     0.7,
			FileSizeLimit: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from an optional TOML file with
// environment-variable overrides applied on top, mirroring the
// defaults-then-file-then-env precedence used throughout this project.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies the spec §6 environment variables plus the
// server/logging overrides this repo carries ambiently.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PII_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("PII_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("PII_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("PII_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("PII_DB_PATH"); v != "" {
		config.Storage.DBPath = v
	}
	if v := os.Getenv("PII_DATA_PATH"); v != "" {
		config.Scan.DataPath = v
	}
	if v := os.Getenv("PII_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scan.Workers = n
		}
	}
	if v := os.Getenv("PII_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scan.BatchSize = n
		}
	}
	if v := os.Getenv("PII_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Scan.Threshold = f
		}
	}
	if v := os.Getenv("PII_FILE_SIZE_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Scan.FileSizeLimit = n
		}
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ScanSettleTimeout is the grace period the control API waits for a
// Stop() to settle before returning, purely cosmetic for the response
// message — Stop itself never blocks on it.
const ScanSettleTimeout = 2 * time.Second
