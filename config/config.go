// Package config loads composer settings: built-in defaults, then a YAML
// file, then CFCOMPOSER_* environment overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	composer "github.com/SashaZezulinsky/cellframe-composer"
	"github.com/SashaZezulinsky/cellframe-composer/ledger"
)

// Environment variables read by Load
const (
	EnvNetwork          = "CFCOMPOSER_NETWORK"
	EnvNodeURL          = "CFCOMPOSER_NODE_URL"
	EnvNodePort         = "CFCOMPOSER_NODE_PORT"
	EnvCertPath         = "CFCOMPOSER_CERT_PATH"
	EnvLedgerMode       = "CFCOMPOSER_LEDGER_MODE"
	EnvLedgerTimeout    = "CFCOMPOSER_LEDGER_TIMEOUT"
	EnvBaseValidatorFee = "CFCOMPOSER_BASE_VALIDATOR_FEE"
	EnvLogLevel         = "CFCOMPOSER_LOG_LEVEL"
	EnvLogFile          = "CFCOMPOSER_LOG_FILE"
)

// Ledger modes
const (
	LedgerMemory = "memory"
	LedgerRPC    = "rpc"
)

// Config is the full composer configuration.
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Fees    FeesConfig    `yaml:"fees"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Log     LogConfig     `yaml:"log"`
}

// NetworkConfig identifies the network and the node serving it.
type NetworkConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Port     int    `yaml:"port"`
	CertPath string `yaml:"cert_path"`
}

// FeesConfig overrides the static fee tables. Maps are merged over the
// built-in entries.
type FeesConfig struct {
	BaseValidatorFee decimal.Decimal              `yaml:"base_validator_fee"`
	NetworkFees      map[string]decimal.Decimal   `yaml:"network_fees"`
	Limits           map[string]composer.FeeLimit `yaml:"limits"`
	NativeTickers    map[string]string            `yaml:"native_tickers"`
	MarketRates      map[string]decimal.Decimal   `yaml:"market_rates"`
}

// LedgerConfig selects and tunes the ledger adapter.
type LedgerConfig struct {
	Mode     string               `yaml:"mode"`
	Timeout  time.Duration        `yaml:"timeout"`
	Breaker  ledger.BreakerConfig `yaml:"breaker"`
	CacheTTL time.Duration        `yaml:"cache_ttl"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the built-in configuration: the memory ledger on mainnet
// with the static fee tables.
func Default() *Config {
	fees := composer.DefaultFeeSchedule()
	return &Config{
		Network: NetworkConfig{
			Name: "mainnet",
			URL:  "http://127.0.0.1",
			Port: 8079,
		},
		Fees: FeesConfig{
			BaseValidatorFee: fees.BaseValidatorFee,
			NetworkFees:      fees.NetworkFees,
			Limits:           fees.Limits,
			NativeTickers:    fees.NativeTickers,
			MarketRates:      fees.MarketRates,
		},
		Ledger: LedgerConfig{
			Mode:     LedgerMemory,
			Timeout:  10 * time.Second,
			Breaker:  ledger.DefaultBreakerConfig(),
			CacheTTL: 30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads the configuration at path over the defaults and applies
// environment overrides. A missing file is not an error; an empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvNetwork); v != "" {
		c.Network.Name = v
	}
	if v := os.Getenv(EnvNodeURL); v != "" {
		c.Network.URL = v
	}
	if v := os.Getenv(EnvNodePort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvNodePort, err)
		}
		c.Network.Port = port
	}
	if v := os.Getenv(EnvCertPath); v != "" {
		c.Network.CertPath = v
	}
	if v := os.Getenv(EnvLedgerMode); v != "" {
		c.Ledger.Mode = v
	}
	if v := os.Getenv(EnvLedgerTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLedgerTimeout, err)
		}
		c.Ledger.Timeout = d
	}
	if v := os.Getenv(EnvBaseValidatorFee); v != "" {
		fee, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBaseValidatorFee, err)
		}
		c.Fees.BaseValidatorFee = fee
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Log.File = v
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Network.Name == "" {
		return errors.New("network.name is required")
	}
	switch c.Ledger.Mode {
	case LedgerMemory:
	case LedgerRPC:
		if c.Network.URL == "" {
			return errors.New("network.url is required in rpc mode")
		}
		if c.Network.Port < 0 || c.Network.Port > 65535 {
			return fmt.Errorf("network.port %d is out of range", c.Network.Port)
		}
	default:
		return fmt.Errorf("unknown ledger.mode %q", c.Ledger.Mode)
	}
	if c.Fees.BaseValidatorFee.IsNegative() {
		return fmt.Errorf("fees.base_validator_fee %s is negative", c.Fees.BaseValidatorFee)
	}
	for token, fee := range c.Fees.NetworkFees {
		if fee.IsNegative() {
			return fmt.Errorf("fees.network_fees.%s %s is negative", token, fee)
		}
	}
	for token, l := range c.Fees.Limits {
		if l.Min.IsNegative() || l.Max.LessThan(l.Min) {
			return fmt.Errorf("fees.limits.%s [%s, %s] is not a valid band", token, l.Min, l.Max)
		}
	}
	return nil
}

// FeeSchedule returns the static fee tables with the configured overrides.
func (c *Config) FeeSchedule() composer.FeeSchedule {
	s := composer.DefaultFeeSchedule()
	if !c.Fees.BaseValidatorFee.IsZero() {
		s.BaseValidatorFee = c.Fees.BaseValidatorFee
	}
	for k, v := range c.Fees.NetworkFees {
		s.NetworkFees[k] = v
	}
	for k, v := range c.Fees.Limits {
		s.Limits[k] = v
	}
	for k, v := range c.Fees.NativeTickers {
		s.NativeTickers[k] = v
	}
	for k, v := range c.Fees.MarketRates {
		s.MarketRates[k] = v
	}
	return s
}

// ComposeConfig returns the network settings of a composer.
func (c *Config) ComposeConfig() composer.ComposeConfig {
	return composer.NewComposeConfig(c.Network.Name, c.Network.URL, c.Network.Port, c.Network.CertPath)
}

// Endpoint returns the node's JSON-RPC URL.
func (c *Config) Endpoint() string {
	if c.Network.Port == 0 {
		return c.Network.URL
	}
	return fmt.Sprintf("%s:%d", c.Network.URL, c.Network.Port)
}

// OpenLedger builds the configured ledger. In rpc mode the node client sits
// behind a quote cache as the primary of a Switch whose fallback is the
// memory ledger. The returned close function releases the cache.
func (c *Config) OpenLedger(ctx context.Context, logger *zap.Logger) (ledger.Ledger, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mem := ledger.NewMemory()
	if c.Ledger.Mode != LedgerRPC {
		return mem, func() error { return nil }, nil
	}

	rpc := ledger.NewRPCClient(c.Endpoint(), c.Ledger.Timeout, logger.Named("rpc"))
	cached, err := ledger.NewQuoteCache(ctx, rpc, c.Ledger.CacheTTL, logger.Named("quote_cache"))
	if err != nil {
		return nil, nil, err
	}
	sw := ledger.NewSwitch(cached, mem, c.Ledger.Breaker, logger.Named("ledger"))
	return sw, cached.Close, nil
}
