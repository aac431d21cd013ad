package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL           string
	HTTPPort              string
	LogLevel              string
	LogFormat             string
	ReportTimeout         time.Duration
	ReportWorkerInterval  time.Duration
	ReportCompanies       []string
	PriceCacheTTL         time.Duration
	PriceMaxAge           time.Duration
	ClassifierEpsilons    map[string]decimal.Decimal
	ClassifierConcurrency int
	StakingContracts      []string
	AirdropDistributors   []string
	GoogleSheetsID        string
	GoogleCredentialsJSON string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		DatabaseURL:           envOrDefaultWarn("DATABASE_URL", ""),
		HTTPPort:              envOrDefault("HTTP_PORT", "8080"),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		LogFormat:             envOrDefault("LOG_FORMAT", "text"),
		ReportTimeout:         envOrDefaultDuration("REPORT_TIMEOUT", 30*time.Second),
		ReportWorkerInterval:  envOrDefaultDuration("REPORT_WORKER_INTERVAL", 24*time.Hour),
		ReportCompanies:       envList("REPORT_COMPANIES"),
		PriceCacheTTL:         envOrDefaultDuration("PRICE_CACHE_TTL", 10*time.Minute),
		PriceMaxAge:           envOrDefaultDuration("PRICE_MAX_AGE", 24*time.Hour),
		ClassifierEpsilons:    envDecimalMap("CLASSIFIER_EPSILONS"),
		ClassifierConcurrency: envOrDefaultInt("CLASSIFIER_CONCURRENCY", 8),
		StakingContracts:      envList("CLASSIFIER_STAKING_CONTRACTS"),
		AirdropDistributors:   envList("CLASSIFIER_AIRDROP_DISTRIBUTORS"),
		GoogleSheetsID:        envOrDefault("GOOGLE_SHEETS_ID", ""),
		GoogleCredentialsJSON: envOrDefault("GOOGLE_CREDENTIALS_JSON", ""),
	}
}

// SheetsEnabled reports whether both Google Sheets settings are present.
func (c Config) SheetsEnabled() bool {
	return c.GoogleSheetsID != "" && c.GoogleCredentialsJSON != ""
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

// envList splits a comma-separated value, dropping blanks and duplicates.
func envList(key string) []string {
	parts := lo.Map(strings.Split(os.Getenv(key), ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Uniq(lo.Compact(parts))
}

// envDecimalMap parses "BTC=0.00001,ETH=0.000000001". Invalid pairs are skipped with a warning.
func envDecimalMap(key string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, pair := range envList(key) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			slog.Warn("invalid key=value pair in env var, skipping", "key", key, "pair", pair)
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || d.IsNegative() {
			slog.Warn("invalid decimal in env var, skipping", "key", key, "pair", pair)
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(name))] = d
	}
	return out
}
