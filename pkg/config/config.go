package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"broker-client/pkg/logging"
	"broker-client/pkg/resilience"
	"broker-client/pkg/writer"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted in storage.backend.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// DefaultBaseURL is the production broker backend.
const DefaultBaseURL = "https://brokerapp.pythonanywhere.com"

// Config holds all application configuration.
type Config struct {
	Backend struct {
		BaseURL            string        `yaml:"base_url"`
		Timeout            time.Duration `yaml:"timeout"`
		ValidationInterval time.Duration `yaml:"validation_interval"`
		// CircuitBreaker guards the backend transport
		CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker"`
	} `yaml:"backend"`

	Storage struct {
		Backend    string `yaml:"backend"`
		StateDir   string `yaml:"state_dir"`
		FilePath   string `yaml:"file_path"`
		SQLitePath string `yaml:"sqlite_path"`
		// MemoryFront puts an in-process layer in front of the durable backend
		MemoryFront bool `yaml:"memory_front"`
		Redis       struct {
			Addr      string `yaml:"addr"`
			Username  string `yaml:"username"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
		Resilience resilience.ResilientConfig `yaml:"resilience"`
		Writer     writer.AsyncWriterConfig   `yaml:"writer"`
	} `yaml:"storage"`

	Cache struct {
		Expiration      time.Duration `yaml:"expiration"`
		StaleWindow     time.Duration `yaml:"stale_window"`
		RecentWindow    time.Duration `yaml:"recent_window"`
		RefreshSchedule string        `yaml:"refresh_schedule"`
	} `yaml:"cache"`

	PriceFeed struct {
		Enabled          bool     `yaml:"enabled"`
		Schedule         string   `yaml:"schedule"`
		CoinGeckoURL     string   `yaml:"coingecko_url"`
		TwelveDataURL    string   `yaml:"twelvedata_url"`
		TwelveDataAPIKey string   `yaml:"twelvedata_api_key"`
		RequestsPerSec   float64  `yaml:"requests_per_sec"`
		ForexPairs       []string `yaml:"forex_pairs"`
	} `yaml:"price_feed"`

	API struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`

	Logging logging.Config `yaml:"logging"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// Enabled unless the file says otherwise
	cfg.PriceFeed.Enabled = true

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration built from defaults and the environment only.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("BROKER_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("BROKER_STATE_DIR"); v != "" {
		c.Storage.StateDir = v
	}
	if v := os.Getenv("BROKER_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("BROKER_REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv("BROKER_LISTEN"); v != "" {
		c.API.Listen = v
	}
	if v := os.Getenv("BROKER_PRICE_FEED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.PriceFeed.Enabled = enabled
		}
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		c.PriceFeed.TwelveDataAPIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBaseURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Backend.ValidationInterval == 0 {
		c.Backend.ValidationInterval = 60 * time.Second
	}
	if c.Backend.CircuitBreaker.Timeout == 0 {
		c.Backend.CircuitBreaker = resilience.DefaultTransportConfig().CircuitBreakerConfig
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFile
	}
	if c.Storage.StateDir == "" {
		c.Storage.StateDir = "data"
	}
	if c.Storage.FilePath == "" {
		c.Storage.FilePath = filepath.Join(c.Storage.StateDir, "session.json")
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.StateDir, "broker.db")
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "broker:"
	}
	if c.Storage.Resilience.CircuitBreakerConfig.Timeout == 0 {
		c.Storage.Resilience = resilience.DefaultStoreConfig()
	}

	if c.Cache.Expiration == 0 {
		c.Cache.Expiration = 5 * time.Minute
	}
	if c.Cache.StaleWindow == 0 {
		c.Cache.StaleWindow = 2 * time.Minute
	}
	if c.Cache.RecentWindow == 0 {
		c.Cache.RecentWindow = 6 * time.Hour
	}
	if c.Cache.RefreshSchedule == "" {
		c.Cache.RefreshSchedule = "@every 30m"
	}

	if c.PriceFeed.Schedule == "" {
		c.PriceFeed.Schedule = "@every 15s"
	}
	if c.PriceFeed.CoinGeckoURL == "" {
		c.PriceFeed.CoinGeckoURL = "https://api.coingecko.com/api/v3"
	}
	if c.PriceFeed.TwelveDataURL == "" {
		c.PriceFeed.TwelveDataURL = "https://api.twelvedata.com"
	}
	if c.PriceFeed.RequestsPerSec == 0 {
		c.PriceFeed.RequestsPerSec = 2
	}
	if len(c.PriceFeed.ForexPairs) == 0 {
		c.PriceFeed.ForexPairs = []string{"EUR/USD", "GBP/USD", "JPY/USD", "AUD/USD", "CAD/USD", "CHF/USD", "NZD/USD"}
	}

	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8088"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageFile, StorageSQLite, StorageRedis:
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, file, sqlite, redis", c.Storage.Backend)
	}
	if c.Cache.StaleWindow > c.Cache.Expiration {
		return fmt.Errorf("cache.stale_window (%v) must not exceed cache.expiration (%v)", c.Cache.StaleWindow, c.Cache.Expiration)
	}
	if c.PriceFeed.Enabled && c.PriceFeed.RequestsPerSec <= 0 {
		return fmt.Errorf("price_feed.requests_per_sec must be positive")
	}
	return nil
}
