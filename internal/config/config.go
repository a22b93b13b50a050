// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables (.env file supported via
// godotenv). API credentials are resolved separately through a KeyLoader so
// encrypted key files and plain environment variables are interchangeable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir      string // Base directory for the database and state files (always absolute)
	DatabasePath string // Path to insightbull.db (derived from DataDir unless overridden)
	LogLevel     string // Log level (debug, info, warn, error)
	Port         int    // HTTP server port (default: 8002)
	DevMode      bool   // Development mode flag

	// Pipeline knobs.
	MaxItemsPerSymbol  int  // Per-symbol cap passed to collectors (default: 100)
	ParallelCollectors bool // Run collectors concurrently (default: true)
	CollectorTimeout   int  // Per-collector timeout in seconds (default: 300)
	SentimentBatchSize int  // Texts per sentiment engine batch (default: 16)

	// Backup settings. Backups are disabled unless a bucket is configured.
	Backup BackupConfig
}

// BackupConfig holds S3-compatible backup configuration.
type BackupConfig struct {
	Bucket          string // Target bucket; empty disables backups
	Endpoint        string // Custom endpoint for S3-compatible stores (R2, MinIO)
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetainCount     int // Number of backups to keep (default: 14)
}

// Load reads configuration from environment variables.
//
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	// Ignore error - .env file is optional
	_ = godotenv.Load()

	dataDir := getEnv("INSIGHTBULL_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir to absolute path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := getEnv("INSIGHTBULL_DB_PATH", filepath.Join(absDataDir, "insightbull.db"))

	cfg := &Config{
		DataDir:            absDataDir,
		DatabasePath:       dbPath,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Port:               getEnvInt("PORT", 8002),
		DevMode:            getEnvBool("DEV_MODE", false),
		MaxItemsPerSymbol:  getEnvInt("PIPELINE_MAX_ITEMS_PER_SYMBOL", 100),
		ParallelCollectors: getEnvBool("PIPELINE_PARALLEL_COLLECTORS", true),
		CollectorTimeout:   getEnvInt("PIPELINE_COLLECTOR_TIMEOUT_SECONDS", 300),
		SentimentBatchSize: getEnvInt("PIPELINE_SENTIMENT_BATCH_SIZE", 16),
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			RetainCount:     getEnvInt("BACKUP_RETAIN_COUNT", 14),
		},
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.CollectorTimeout <= 0 {
		return nil, fmt.Errorf("collector timeout must be positive, got %d", cfg.CollectorTimeout)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
