// Package common provides shared utilities for SmartFund
package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/smartfund/internal/interfaces"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for SmartFund
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Clients     ClientsConfig   `toml:"clients"`
	Quote       QuoteConfig     `toml:"quote"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the two storage areas: the portfolio state document
// and the upstream data cache.
type StorageConfig struct {
	State FileConfig `toml:"state"` // Portfolio state (JSON document)
	Cache AreaConfig `toml:"cache"` // Fund list, holdings, history snapshots, KV (BadgerHold)
}

// AreaConfig holds path configuration for a storage area.
type AreaConfig struct {
	Path string `toml:"path"`
}

// FileConfig holds path and version retention for file-backed storage.
type FileConfig struct {
	Path     string `toml:"path"`
	Versions int    `toml:"versions"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Eastmoney EastmoneyConfig `toml:"eastmoney"`
	Gemini    GeminiConfig    `toml:"gemini"`
}

// EastmoneyConfig holds configuration for the eastmoney fund data endpoints
type EastmoneyConfig struct {
	EstimateURL string `toml:"estimate_url"` // fundgz realtime estimates
	FundURL     string `toml:"fund_url"`     // pingzhongdata history and fund list
	QuoteURL    string `toml:"quote_url"`    // push2 quotes and indices
	MobileURL   string `toml:"mobile_url"`   // holdings
	RateLimit   int    `toml:"rate_limit"`
	Timeout     string `toml:"timeout"`

	BreakerFailures int    `toml:"breaker_failures"`
	BreakerTimeout  string `toml:"breaker_timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EastmoneyConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// GetBreakerTimeout returns how long the breaker stays open before probing.
func (c *EastmoneyConfig) GetBreakerTimeout() time.Duration {
	return parseDuration(c.BreakerTimeout, 30*time.Second)
}

// GeminiConfig holds Gemini API configuration
type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// QuoteConfig tunes estimate tiers and upstream caching.
type QuoteConfig struct {
	EstimateTTL     string  `toml:"estimate_ttl"`
	HoldingsTTL     string  `toml:"holdings_ttl"`
	FundListTTL     string  `toml:"fund_list_ttl"`
	HistoryDays     int     `toml:"history_days"`
	HoldingsDamping float64 `toml:"holdings_damping"`
	MaxConcurrent   int     `toml:"max_concurrent"`
}

// GetEstimateTTL returns the realtime estimate cache lifetime.
func (c *QuoteConfig) GetEstimateTTL() time.Duration {
	return parseDuration(c.EstimateTTL, FreshnessEstimate)
}

// GetHoldingsTTL returns the top-holdings cache lifetime.
func (c *QuoteConfig) GetHoldingsTTL() time.Duration {
	return parseDuration(c.HoldingsTTL, FreshnessHoldings)
}

// GetFundListTTL returns the searchable fund list cache lifetime.
func (c *QuoteConfig) GetFundListTTL() time.Duration {
	return parseDuration(c.FundListTTL, FreshnessFundList)
}

// SchedulerConfig holds cron schedules for background refreshes.
// Empty schedules disable the corresponding job.
type SchedulerConfig struct {
	Timezone         string `toml:"timezone"`
	QuoteRefresh     string `toml:"quote_refresh"`
	FundListRefresh  string `toml:"fund_list_refresh"`
	RefreshOnStartup bool   `toml:"refresh_on_startup"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 7860,
		},
		Storage: StorageConfig{
			State: FileConfig{Path: "data/state", Versions: 5},
			Cache: AreaConfig{Path: "data/cache"},
		},
		Clients: ClientsConfig{
			Eastmoney: EastmoneyConfig{
				EstimateURL:     "http://fundgz.1234567.com.cn",
				FundURL:         "http://fund.eastmoney.com",
				QuoteURL:        "http://push2.eastmoney.com",
				MobileURL:       "https://fundmobapi.eastmoney.com",
				RateLimit:       20,
				Timeout:         "5s",
				BreakerFailures: 5,
				BreakerTimeout:  "30s",
			},
			Gemini: GeminiConfig{
				Model: "gemini-3-flash-preview",
			},
		},
		Quote: QuoteConfig{
			EstimateTTL:     "60s",
			HoldingsTTL:     "72h",
			FundListTTL:     "24h",
			HistoryDays:     365,
			HoldingsDamping: 0.95,
			MaxConcurrent:   8,
		},
		Scheduler: SchedulerConfig{
			Timezone:        "Asia/Shanghai",
			QuoteRefresh:    "*/1 9-15 * * 1-5",
			FundListRefresh: "30 2 * * *",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Outputs:  []string{"console"},
			FilePath: "./logs/smartfund.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SMARTFUND_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("SMARTFUND_HOST"); host != "" {
		config.Server.Host = host
	}

	// PORT is honoured for container platforms that inject it
	for _, name := range []string{"PORT", "SMARTFUND_PORT"} {
		if port := os.Getenv(name); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				config.Server.Port = p
			}
		}
	}

	if level := os.Getenv("SMARTFUND_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("SMARTFUND_DATA_PATH"); path != "" {
		config.Storage.State.Path = filepath.Join(path, "state")
		config.Storage.Cache.Path = filepath.Join(path, "cache")
	}

	if v := os.Getenv("SMARTFUND_GEMINI_MODEL"); v != "" {
		config.Clients.Gemini.Model = v
	}

	if v := os.Getenv("SMARTFUND_QUOTE_REFRESH"); v != "" {
		config.Scheduler.QuoteRefresh = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves an API key from environment, the KV store, or fallback
func ResolveAPIKey(ctx context.Context, kv interfaces.KeyValueStorage, name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key": {"GEMINI_API_KEY", "SMARTFUND_GEMINI_API_KEY", "GOOGLE_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if kv != nil {
		apiKey, err := kv.Get(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or store", name)
}
