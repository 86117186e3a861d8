package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mjhen/rosterbridge/internal/grid"
	"github.com/mjhen/rosterbridge/internal/match"
	"github.com/mjhen/rosterbridge/internal/roster"
)

type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	SQLitePath      string
	AutoMigrate     bool
	AliasTablesPath string
	HeaderScanRows  int
	FuzzyThreshold  float64
	StateIDPrefix   string
	MaxUploadBytes  int64
	ImportTimeout   time.Duration
	LogLevel        string
	LogJSON         bool
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:      getEnv("SQLITE_PATH", "rosterbridge.db"),
		AutoMigrate:     getBoolEnv("AUTO_MIGRATE", true),
		AliasTablesPath: strings.TrimSpace(os.Getenv("ALIAS_TABLES_PATH")),
		HeaderScanRows:  getIntEnv("HEADER_SCAN_ROWS", grid.MaxScanRows),
		FuzzyThreshold:  getFloatEnv("FUZZY_THRESHOLD", match.DefaultFuzzyThreshold),
		StateIDPrefix:   strings.ToUpper(getEnv("STATE_ID_PREFIX", roster.DefaultStatePrefix)),
		MaxUploadBytes:  int64(getIntEnv("MAX_UPLOAD_BYTES", 32*1024*1024)),
		ImportTimeout:   getDurationEnv("IMPORT_TIMEOUT", 5*time.Minute),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogJSON:         getBoolEnv("LOG_JSON", true),
	}

	if cfg.HeaderScanRows <= 0 || cfg.HeaderScanRows > grid.MaxScanRows {
		return Config{}, fmt.Errorf("HEADER_SCAN_ROWS must be between 1 and %d", grid.MaxScanRows)
	}
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		return Config{}, errors.New("FUZZY_THRESHOLD must be in (0, 1]")
	}
	if len(cfg.StateIDPrefix) != 2 {
		return Config{}, errors.New("STATE_ID_PREFIX must be two letters")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 * 1024 * 1024
	}
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = 5 * time.Minute
	}

	return cfg, nil
}

// LoadDotEnv reads KEY=value files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getBoolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getIntEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getFloatEnv(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
