// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for all databases (always absolute)
	PipelinePath string // Path to the pipeline YAML config file
	LogLevel     string
	Port         int
	DevMode      bool

	// Archive settings for run-report uploads (optional; disabled when
	// the bucket is empty)
	Archive ArchiveConfig
}

// ArchiveConfig holds S3-compatible archive storage configuration
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string // Custom endpoint for S3-compatible providers (R2, MinIO)
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether archive uploads are configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != "" && a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// Load reads configuration from environment variables (.env file supported)
func Load() (*Config, error) {
	// .env is optional - ignore error if it doesn't exist
	_ = godotenv.Load()

	dataDir := getEnv("QUANTFOLIO_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}

	port, err := strconv.Atoi(getEnv("QUANTFOLIO_PORT", "8090"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUANTFOLIO_PORT: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		PipelinePath: getEnv("QUANTFOLIO_PIPELINE_CONFIG", filepath.Join(absDataDir, "pipeline.yaml")),
		LogLevel:     getEnv("QUANTFOLIO_LOG_LEVEL", "info"),
		Port:         port,
		DevMode:      getEnv("QUANTFOLIO_DEV_MODE", "false") == "true",
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("QUANTFOLIO_ARCHIVE_BUCKET"),
			Endpoint:        os.Getenv("QUANTFOLIO_ARCHIVE_ENDPOINT"),
			Region:          getEnv("QUANTFOLIO_ARCHIVE_REGION", "auto"),
			AccessKeyID:     os.Getenv("QUANTFOLIO_ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("QUANTFOLIO_ARCHIVE_SECRET_ACCESS_KEY"),
		},
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
