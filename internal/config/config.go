// Package config loads and validates the service configuration from YAML,
// with environment variable overrides for deployment settings.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/helios-quant/candle-sync/internal/server"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Environment override names.
const (
	EnvDataDir = "CANDLESYNC_DATA_DIR"
	EnvHost    = "CANDLESYNC_HOST"
	EnvPort    = "CANDLESYNC_PORT"
	EnvBaseURL = "CANDLESYNC_BASE_URL"
)

// PairConfig is one tracked (symbol, interval) combination.
type PairConfig struct {
	Symbol   string `yaml:"symbol" validate:"required"`
	Interval string `yaml:"interval" validate:"required,oneof=1m 5m 15m 1h 4h 1d"`
}

// ExchangeConfig configures the Binance client.
type ExchangeConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"omitempty,min=1"`
	PageLimit      int    `yaml:"page_limit" validate:"omitempty,min=1,max=1000"`
}

// StorageConfig configures the dataset store.
type StorageConfig struct {
	DataDir string `yaml:"data_dir" validate:"required"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port" validate:"min=1,max=65535"`
	TickerTTLSeconds int      `yaml:"ticker_ttl_seconds" validate:"omitempty,min=1"`
	CORSOrigins      []string `yaml:"cors_origins"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// SyncConfig configures the sync orchestration.
type SyncConfig struct {
	LookbackDays int    `yaml:"lookback_days" validate:"omitempty,min=1"`
	Cron         string `yaml:"cron"`
}

// Config is the root configuration.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Sync     SyncConfig     `yaml:"sync"`
	Pairs    []PairConfig   `yaml:"pairs" validate:"required,min=1,dive"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Storage: StorageConfig{DataDir: "data/hot"},
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8000, CORSOrigins: []string{"*"}},
		Logging: LoggingConfig{Level: "info"},
		Sync:    SyncConfig{LookbackDays: 30},
		Pairs: []PairConfig{
			{Symbol: "BTCUSDT", Interval: "1h"},
			{Symbol: "BTCUSDT", Interval: "4h"},
			{Symbol: "BTCUSDT", Interval: "1d"},
		},
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path yields the default configuration with
// overrides applied.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
		}

		if err := yaml.Unmarshal(raw, &config); err != nil {
			return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config file %s", path)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks the configuration structure.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.Storage.DataDir = dir
	}

	if host := os.Getenv(EnvHost); host != "" {
		c.Server.Host = host
	}

	if portRaw := os.Getenv(EnvPort); portRaw != "" {
		if port, err := strconv.Atoi(portRaw); err == nil {
			c.Server.Port = port
		}
	}

	if baseURL := os.Getenv(EnvBaseURL); baseURL != "" {
		c.Exchange.BaseURL = baseURL
	}
}

// Lookback returns the initial fetch window for pairs without a dataset.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Sync.LookbackDays) * 24 * time.Hour
}

// ExchangeTimeout returns the HTTP timeout for exchange requests.
func (c *Config) ExchangeTimeout() time.Duration {
	if c.Exchange.TimeoutSeconds <= 0 {
		return 0
	}

	return time.Duration(c.Exchange.TimeoutSeconds) * time.Second
}

// TickerTTL returns the ticker cache bound.
func (c *Config) TickerTTL() time.Duration {
	if c.Server.TickerTTLSeconds <= 0 {
		return 0
	}

	return time.Duration(c.Server.TickerTTLSeconds) * time.Second
}

// ServerPairs converts the configured pairs to the server representation.
// Intervals are already validated.
func (c *Config) ServerPairs() []server.Pair {
	pairs := make([]server.Pair, 0, len(c.Pairs))

	for _, p := range c.Pairs {
		interval, err := types.ParseInterval(p.Interval)
		if err != nil {
			continue
		}

		pairs = append(pairs, server.Pair{Symbol: p.Symbol, Interval: interval})
	}

	return pairs
}
