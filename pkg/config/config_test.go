package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.BaseURL != DefaultBaseURL {
		t.Errorf("Expected default base URL, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 10*time.Second {
		t.Errorf("Expected 10s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Cache.Expiration != 5*time.Minute || cfg.Cache.StaleWindow != 2*time.Minute {
		t.Errorf("Unexpected cache windows: %v / %v", cfg.Cache.Expiration, cfg.Cache.StaleWindow)
	}
	if cfg.Storage.Backend != StorageFile {
		t.Errorf("Expected file storage, got %q", cfg.Storage.Backend)
	}
	if !cfg.PriceFeed.Enabled {
		t.Error("Expected price feed enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	data := `
backend:
  base_url: http://localhost:8000
  timeout: 3s
storage:
  backend: sqlite
  state_dir: /tmp/broker
cache:
  expiration: 10m
  stale_window: 1m
price_feed:
  enabled: false
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("Expected base URL from file, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Storage.SQLitePath != filepath.Join("/tmp/broker", "broker.db") {
		t.Errorf("Expected sqlite path under state dir, got %q", cfg.Storage.SQLitePath)
	}
	if cfg.Cache.Expiration != 10*time.Minute {
		t.Errorf("Expected 10m expiration, got %v", cfg.Cache.Expiration)
	}
	if cfg.PriceFeed.Enabled {
		t.Error("Expected price feed disabled by file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BROKER_BASE_URL", "http://env:9000")
	t.Setenv("BROKER_STORAGE", "redis")
	t.Setenv("BROKER_REDIS_ADDR", "redis:6380")
	t.Setenv("BROKER_LISTEN", ":9999")
	t.Setenv("TWELVEDATA_API_KEY", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.BaseURL != "http://env:9000" {
		t.Errorf("Expected env base URL, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Storage.Backend != StorageRedis || cfg.Storage.Redis.Addr != "redis:6380" {
		t.Errorf("Expected redis at redis:6380, got %q at %q", cfg.Storage.Backend, cfg.Storage.Redis.Addr)
	}
	if cfg.API.Listen != ":9999" {
		t.Errorf("Expected listen :9999, got %q", cfg.API.Listen)
	}
	if cfg.PriceFeed.TwelveDataAPIKey != "secret" {
		t.Errorf("Expected API key from env, got %q", cfg.PriceFeed.TwelveDataAPIKey)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	os.WriteFile(path, []byte("backend: [unterminated"), 0o600)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"empty base url", func(c *Config) { c.Backend.BaseURL = "" }, "base_url"},
		{"stale exceeds expiration", func(c *Config) { c.Cache.StaleWindow = time.Hour }, "stale_window"},
		{"zero timeout", func(c *Config) { c.Backend.Timeout = 0 }, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
