package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// Limits holds one provider's quota windows. Zero means unlimited.
type Limits struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

type Yahoo struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Priority int    `yaml:"priority"`
	Limits   Limits `yaml:"limits"`
}

type AlphaVantage struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Priority int    `yaml:"priority"`
	Limits   Limits `yaml:"limits"`
}

type Nasdaq struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Priority int    `yaml:"priority"`
	Limits   Limits `yaml:"limits"`
}

type Cache struct {
	MaxMemoryMB     int    `yaml:"max_memory_mb"`
	FreshTTLSec     int    `yaml:"fresh_ttl_sec"`
	StaleHorizonSec int    `yaml:"stale_horizon_sec"`
	QuoteTTLSec     int    `yaml:"quote_ttl_sec"`
	EnableDisk      bool   `yaml:"enable_disk"`
	DiskDir         string `yaml:"disk_dir"`
	DiskTTLSec      int    `yaml:"disk_ttl_sec"`
}

type Store struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type Fetch struct {
	// MaxAttempts is tries per provider (first call plus retries) before
	// failing over to the next provider.
	MaxAttempts   int `yaml:"max_attempts"`
	BackoffMillis int `yaml:"backoff_ms"`
	// BatchConcurrency caps concurrent symbols in a batch fetch. Zero lets
	// the orchestrator derive it from the tightest per-second provider limit.
	BatchConcurrency int `yaml:"batch_concurrency"`
}

type Config struct {
	Server       Server       `yaml:"server"`
	LogLevel     string       `yaml:"log_level"` // debug|info|warning|off
	Cache        Cache        `yaml:"cache"`
	Store        Store        `yaml:"store"`
	Fetch        Fetch        `yaml:"fetch"`
	Yahoo        Yahoo        `yaml:"yahoo"`
	AlphaVantage AlphaVantage `yaml:"alphavantage"`
	Nasdaq       Nasdaq       `yaml:"nasdaq"`
}

func Default() Config {
	return Config{
		Server:   Server{Port: "8080", RequestTimeoutSec: 20},
		LogLevel: "info",
		Cache: Cache{
			MaxMemoryMB:     64,
			FreshTTLSec:     300,
			StaleHorizonSec: 3600,
			QuoteTTLSec:     60,
			EnableDisk:      true,
			DiskDir:         "cache",
			DiskTTLSec:      3600,
		},
		Store: Store{Path: "assetfeed.db", RetentionDays: 3650},
		Fetch: Fetch{MaxAttempts: 2, BackoffMillis: 500},
		Yahoo: Yahoo{
			Enabled:  true,
			Priority: 1,
			Limits:   Limits{PerSecond: 2, PerMinute: 60, PerHour: 1000, PerDay: 10000},
		},
		AlphaVantage: AlphaVantage{
			Enabled:  false,
			Priority: 2,
			// free tier: 5 requests/min, 25/day
			Limits: Limits{PerSecond: 1, PerMinute: 5, PerDay: 25},
		},
		Nasdaq: Nasdaq{
			Enabled:  true,
			Priority: 3,
			Limits:   Limits{PerSecond: 1, PerMinute: 20, PerHour: 300, PerDay: 2000},
		},
	}
}

// Load reads YAML config from path. An empty path falls back to config.yaml
// when present, otherwise defaults. Environment variables override secrets
// and select knobs afterwards.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := envInt("REQUEST_TIMEOUT_SEC"); v > 0 {
		cfg.Server.RequestTimeoutSec = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
		cfg.AlphaVantage.Enabled = true
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := envInt("RETENTION_DAYS"); v > 0 {
		cfg.Store.RetentionDays = v
	}
	if v := os.Getenv("DISK_CACHE_DIR"); v != "" {
		cfg.Cache.DiskDir = v
	}
	if v := os.Getenv("DISK_CACHE_ENABLED"); v != "" {
		cfg.Cache.EnableDisk = envBool(v)
	}
	if v := envInt("MAX_MEMORY_CACHE_MB"); v > 0 {
		cfg.Cache.MaxMemoryMB = v
	}
	if v := envInt("BATCH_CONCURRENCY"); v > 0 {
		cfg.Fetch.BatchConcurrency = v
	}
	if v := os.Getenv("YAHOO_ENABLED"); v != "" {
		cfg.Yahoo.Enabled = envBool(v)
	}
	if v := os.Getenv("NASDAQ_ENABLED"); v != "" {
		cfg.Nasdaq.Enabled = envBool(v)
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return x
}

func envBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}
