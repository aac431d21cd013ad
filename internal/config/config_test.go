package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	// Clear any env vars that might affect defaults
	for _, key := range []string{
		"DATABASE_URL", "HTTP_PORT", "LOG_LEVEL", "LOG_FORMAT", "REPORT_TIMEOUT",
		"REPORT_COMPANIES", "PRICE_MAX_AGE", "CLASSIFIER_EPSILONS", "GOOGLE_SHEETS_ID",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want 8080", cfg.HTTPPort)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("logging = %q/%q, want info/text", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.ReportTimeout != 30*time.Second {
		t.Errorf("ReportTimeout = %v, want 30s", cfg.ReportTimeout)
	}
	if cfg.PriceMaxAge != 24*time.Hour {
		t.Errorf("PriceMaxAge = %v, want 24h", cfg.PriceMaxAge)
	}
	if len(cfg.ReportCompanies) != 0 {
		t.Errorf("ReportCompanies = %v, want none", cfg.ReportCompanies)
	}
	if len(cfg.ClassifierEpsilons) != 0 {
		t.Errorf("ClassifierEpsilons = %v, want none", cfg.ClassifierEpsilons)
	}
	if cfg.SheetsEnabled() {
		t.Error("SheetsEnabled = true without credentials")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/testdb")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("REPORT_TIMEOUT", "2m")
	t.Setenv("REPORT_COMPANIES", "acme, globex,,acme")
	t.Setenv("CLASSIFIER_EPSILONS", "btc=0.00001, ETH=0.000000001")
	t.Setenv("CLASSIFIER_CONCURRENCY", "16")
	t.Setenv("GOOGLE_SHEETS_ID", "sheet-id")
	t.Setenv("GOOGLE_CREDENTIALS_JSON", "{}")

	cfg := Load()

	if cfg.DatabaseURL != "postgres://localhost/testdb" {
		t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %q, want 9090", cfg.HTTPPort)
	}
	if cfg.ReportTimeout != 2*time.Minute {
		t.Errorf("ReportTimeout = %v, want 2m", cfg.ReportTimeout)
	}
	if len(cfg.ReportCompanies) != 2 || cfg.ReportCompanies[0] != "acme" || cfg.ReportCompanies[1] != "globex" {
		t.Errorf("ReportCompanies = %v, want [acme globex]", cfg.ReportCompanies)
	}
	if eps := cfg.ClassifierEpsilons["BTC"]; !eps.Equal(decimal.RequireFromString("0.00001")) {
		t.Errorf("BTC epsilon = %s, want 0.00001", eps)
	}
	if len(cfg.ClassifierEpsilons) != 2 {
		t.Errorf("ClassifierEpsilons = %v, want 2 entries", cfg.ClassifierEpsilons)
	}
	if cfg.ClassifierConcurrency != 16 {
		t.Errorf("ClassifierConcurrency = %d, want 16", cfg.ClassifierConcurrency)
	}
	if !cfg.SheetsEnabled() {
		t.Error("SheetsEnabled = false with both settings present")
	}
}

func TestLoadInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("CLASSIFIER_CONCURRENCY", "not-a-number")
	t.Setenv("REPORT_TIMEOUT", "invalid-duration")
	t.Setenv("CLASSIFIER_EPSILONS", "BTC,ETH=abc,SOL=-1,LTC=0.0001")

	cfg := Load()

	if cfg.ClassifierConcurrency != 8 {
		t.Errorf("ClassifierConcurrency = %d, want default 8 on invalid input", cfg.ClassifierConcurrency)
	}
	if cfg.ReportTimeout != 30*time.Second {
		t.Errorf("ReportTimeout = %v, want default 30s on invalid input", cfg.ReportTimeout)
	}
	if len(cfg.ClassifierEpsilons) != 1 {
		t.Errorf("ClassifierEpsilons = %v, want only LTC", cfg.ClassifierEpsilons)
	}
}
