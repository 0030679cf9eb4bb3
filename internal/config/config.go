// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Storage backend names accepted by STORAGE_BACKEND.
const (
	BackendDatabase = "database"
	BackendFile     = "file"
)

// Config holds all configuration for the server.
type Config struct {
	// Server settings
	Port        int
	CORSOrigins []string

	// Persistence
	DatabaseDSN    string
	DatabaseDriver string // "postgres" or "sqlite", auto-detected from DSN
	DataDir        string
	StorageBackend string // "database" or "file"

	// Runs
	RunExpiresIn time.Duration
	DefaultAgent string

	// Files
	MaxFileSize int64

	// Events
	EventPollInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Shutdown
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	// Server
	cfg.Port = getEnvInt("PORT", 8080)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"})

	// Persistence
	cfg.DataDir = getEnv("DATA_DIR", "./data")
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "sqlite3://"+filepath.Join(cfg.DataDir, "loom.db"))
	cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)
	cfg.StorageBackend = getEnv("STORAGE_BACKEND", BackendDatabase)
	if cfg.StorageBackend != BackendDatabase && cfg.StorageBackend != BackendFile {
		return nil, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendDatabase, BackendFile, cfg.StorageBackend)
	}

	// Runs
	cfg.RunExpiresIn = getEnvDuration("RUN_EXPIRES_IN", 10*time.Minute)
	cfg.DefaultAgent = getEnv("DEFAULT_AGENT", "echo")

	// Files
	cfg.MaxFileSize = getEnvInt64("MAX_FILE_SIZE", 25*1024*1024)
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", cfg.MaxFileSize)
	}

	// Events
	cfg.EventPollInterval = getEnvDuration("EVENT_POLL_INTERVAL", 100*time.Millisecond)

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	// Shutdown
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)

	return cfg, nil
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for the database driver
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	// For postgres, add the prefix back
	if c.DatabaseDriver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
