// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir        string   // Base directory for the database and chart images (always absolute)
	Port           int
	LogLevel       string
	DevMode        bool
	Tickers        []string // Tracked instruments, seeded on first boot
	UpdateSchedule string   // Cron expression for the nightly update run
	HorizonDays    int      // Forecast horizon (trading days per forecast)

	MarketDataBaseURL string // Yahoo-compatible chart API base URL
	HistoryStartDate  string // First date of price history used for training

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup settings.
// Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FORESIGHT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("FORESIGHT_PORT", 8001),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		Tickers:           getEnvAsList("FORESIGHT_TICKERS", []string{"AAPL", "META", "AMZN", "NFLX", "GOOGL"}),
		UpdateSchedule:    getEnv("FORESIGHT_UPDATE_SCHEDULE", "0 30 22 * * MON-FRI"),
		HorizonDays:       getEnvAsInt("FORESIGHT_HORIZON_DAYS", 5),
		MarketDataBaseURL: getEnv("MARKET_DATA_BASE_URL", "https://query1.finance.yahoo.com"),
		HistoryStartDate:  getEnv("FORESIGHT_HISTORY_START", "2017-01-01"),
		Backup:            loadBackupConfig(),
	}

	if cfg.HorizonDays < 1 {
		return nil, fmt.Errorf("forecast horizon must be at least 1 day, got %d", cfg.HorizonDays)
	}
	if len(cfg.Tickers) == 0 {
		return nil, fmt.Errorf("no tickers configured")
	}

	return cfg, nil
}

// DatabasePath returns the path of the sqlite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "foresight.db")
}

// ImagesDir returns the directory chart images are referenced from.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.DataDir, "images")
}

func loadBackupConfig() *BackupConfig {
	bucket := getEnv("BACKUP_S3_BUCKET", "")
	if bucket == "" {
		return nil
	}
	return &BackupConfig{
		Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:    getEnv("BACKUP_S3_REGION", "auto"),
		Bucket:    bucket,
		AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
