package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all process settings, populated from environment variables.
// Every binary (api, matcher, notifier, harvester) shares the same Config;
// fields a given process does not need are simply ignored by it.
type Config struct {
	DatabaseURL string
	HTTPPort    string
	MetricsAddr string
	LogLevel    string

	// Dry routes deliveries to the log publisher instead of SNS. Defaults to
	// true so a fresh deployment cannot text anyone by accident.
	Dry bool

	// DeliveryRatePerSecond caps outbound SMS publishes.
	DeliveryRatePerSecond float64

	// DatasetsFile points at the YAML list of harvest source URLs. Empty
	// means the built-in NASA FIRMS defaults.
	DatasetsFile string
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		HTTPPort:              envOrDefault("PORT", "8080"),
		MetricsAddr:           os.Getenv("METRICS_ADDR"),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		Dry:                   true,
		DeliveryRatePerSecond: 1,
		DatasetsFile:          os.Getenv("DATASETS_FILE"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	if v := os.Getenv("DRY"); v != "" {
		dry, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DRY value %q: %w", v, err)
		}
		cfg.Dry = dry
	}

	if v := os.Getenv("DELIVERY_RATE_PER_SECOND"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("invalid DELIVERY_RATE_PER_SECOND value %q", v)
		}
		cfg.DeliveryRatePerSecond = rate
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
