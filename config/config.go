// Package config loads the monitor's configuration from a YAML file and
// the environment. Credentials come exclusively from the environment (or a
// .env file) and are treated as immutable for the life of the process.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	envAPIKey    = "BINANCE_API_KEY"
	envAPISecret = "BINANCE_API_SECRET"
)

// Config is the resolved runtime configuration.
type Config struct {
	APIKey    string
	APISecret string

	UseTestnet     bool
	BaseCurrency   string
	RequestTimeout time.Duration
	RecvWindow     time.Duration
	MaxRetries     int

	RefreshInterval time.Duration

	AccountTTL   time.Duration
	PositionsTTL time.Duration
	TradesTTL    time.Duration
	IncomeTTL    time.Duration
	MaxStaleAge  time.Duration

	MarginRatioAlert decimal.Decimal
}

type fileConfig struct {
	UseTestnet            bool   `yaml:"use_testnet"`
	BaseCurrency          string `yaml:"base_currency"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	RecvWindowSeconds     int    `yaml:"recv_window_seconds"`
	MaxRetries            *int   `yaml:"max_retries"`

	RefreshInterval time.Duration `yaml:"refresh_interval"`

	AccountTTL   time.Duration `yaml:"account_ttl"`
	PositionsTTL time.Duration `yaml:"positions_ttl"`
	TradesTTL    time.Duration `yaml:"trades_ttl"`
	IncomeTTL    time.Duration `yaml:"income_ttl"`
	MaxStaleAge  time.Duration `yaml:"max_stale_age"`

	MarginRatioAlert string `yaml:"margin_ratio_alert"`
}

// Load reads the optional YAML file at path, merges environment overrides
// and applies defaults. A missing path means defaults plus environment.
func Load(path string) (Config, error) {
	// Best effort: a .env file is a development convenience, not a
	// requirement.
	_ = godotenv.Load()

	cfg := Config{
		BaseCurrency:     "USDT",
		RequestTimeout:   10 * time.Second,
		RecvWindow:       5 * time.Second,
		MaxRetries:       3,
		RefreshInterval:  time.Minute,
		AccountTTL:       30 * time.Second,
		PositionsTTL:     30 * time.Second,
		TradesTTL:        time.Minute,
		IncomeTTL:        5 * time.Minute,
		MarginRatioAlert: decimal.RequireFromString("0.8"),
	}

	if path != "" {
		var fc fileConfig
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, errors.Wrap(err, "parse config file")
		}
		if err := applyFile(&cfg, fc); err != nil {
			return Config{}, err
		}
	}

	cfg.APIKey = os.Getenv(envAPIKey)
	cfg.APISecret = os.Getenv(envAPISecret)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) error {
	cfg.UseTestnet = fc.UseTestnet
	if fc.BaseCurrency != "" {
		cfg.BaseCurrency = fc.BaseCurrency
	}
	if fc.RequestTimeoutSeconds > 0 {
		cfg.RequestTimeout = time.Duration(fc.RequestTimeoutSeconds) * time.Second
	}
	if fc.RecvWindowSeconds > 0 {
		cfg.RecvWindow = time.Duration(fc.RecvWindowSeconds) * time.Second
	}
	if fc.MaxRetries != nil && *fc.MaxRetries >= 0 {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.RefreshInterval > 0 {
		cfg.RefreshInterval = fc.RefreshInterval
	}
	if fc.AccountTTL > 0 {
		cfg.AccountTTL = fc.AccountTTL
	}
	if fc.PositionsTTL > 0 {
		cfg.PositionsTTL = fc.PositionsTTL
	}
	if fc.TradesTTL > 0 {
		cfg.TradesTTL = fc.TradesTTL
	}
	if fc.IncomeTTL > 0 {
		cfg.IncomeTTL = fc.IncomeTTL
	}
	if fc.MaxStaleAge > 0 {
		cfg.MaxStaleAge = fc.MaxStaleAge
	}
	if fc.MarginRatioAlert != "" {
		d, err := decimal.NewFromString(fc.MarginRatioAlert)
		if err != nil {
			return errors.Wrap(err, "invalid margin_ratio_alert")
		}
		cfg.MarginRatioAlert = d
	}
	return nil
}

func (c Config) validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return errors.Errorf("%s and %s environment variables must be set", envAPIKey, envAPISecret)
	}
	return nil
}
