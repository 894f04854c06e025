// Package config resolves the broker's runtime configuration from
// environment variables (and an optional .env file for local development),
// with CLI flags taking precedence when explicitly set.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every tunable the broker reads at startup.
type Config struct {
	DBPath         string
	ImagesDir      string
	Host           string
	Port           int
	LogLevel       string
	LogPretty      bool
	MaxUploadBytes int64
}

// Defaults returns the broker's out-of-the-box configuration absent any
// environment override.
func Defaults() Config {
	return Config{
		DBPath:         "db/image_tasks.db",
		ImagesDir:      "images",
		Host:           "0.0.0.0",
		Port:           8000,
		LogLevel:       "info",
		LogPretty:      false,
		MaxUploadBytes: 25 << 20,
	}
}

// Load starts from Defaults, loads a .env file if present (silently
// ignoring its absence), and applies any matching environment variables.
func Load() Config {
	_ = godotenv.Load()

	cfg := Defaults()

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("IMAGES_DIR"); v != "" {
		cfg.ImagesDir = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}

	return cfg
}
