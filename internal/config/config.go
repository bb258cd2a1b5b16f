// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Auth
	JWTSecret string

	// Files
	FilesRoot     string
	TempUploadDir string

	// Uploads
	MaxUploadSize int64

	// Rate limiting (0 = unlimited)
	RequestsPerMinute int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		DatabaseURL:       envOr("DATABASE_URL", ""),
		JWTSecret:         envOr("JWT_SECRET", ""),
		FilesRoot:         envOr("FILES_ROOT", "files"),
		TempUploadDir:     envOr("TEMP_UPLOAD_DIR", ""),
		MaxUploadSize:     envInt64("MAX_UPLOAD_SIZE", 10*1024*1024*1024), // 10 GiB
		RequestsPerMinute: envInt("REQUESTS_PER_MINUTE", 0),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Chunk staging lives next to the served tree unless overridden
	if cfg.TempUploadDir == "" {
		cfg.TempUploadDir = filepath.Join(cfg.FilesRoot, ".temp-uploads")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
