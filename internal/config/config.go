// Package config defines all configuration for the market-making agent.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// the signing key and any credentials overridable via MM_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ReferenceFeedKind enumerates the reference feed a trading run can start
// with.
type ReferenceFeedKind string

const (
	FeedBinance  ReferenceFeedKind = "binance"
	FeedCoinbase ReferenceFeedKind = "coinbase"
	FeedNone     ReferenceFeedKind = "none"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure, plus the connection/signing fields a concrete venue client
// needs.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Market   MarketConfig   `mapstructure:"market"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	API      APIConfig      `mapstructure:"api"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MarketConfig names the single market this agent quotes.
type MarketConfig struct {
	Symbol string `mapstructure:"symbol"`
}

// WalletConfig holds the single out-of-band signing key used to sign atomic
// submissions to the local venue.
type WalletConfig struct {
	SigningKey    string `mapstructure:"signing_key"`
	ChainID       int    `mapstructure:"chain_id"`
	AccountID     string `mapstructure:"account_id"`
}

// APIConfig holds venue connection endpoints.
type APIConfig struct {
	RESTBaseURL      string `mapstructure:"rest_base_url"`
	LocalWSURL       string `mapstructure:"local_ws_url"`
	ReferenceWSURL   string `mapstructure:"reference_ws_url_binance"`
	ReferenceWSURLCB string `mapstructure:"reference_ws_url_coinbase"`
}

// StrategyConfig holds every tunable strategy parameter.
type StrategyConfig struct {
	ReferenceFeed          ReferenceFeedKind `mapstructure:"reference_feed"`
	EnableFeedFailover     bool              `mapstructure:"enable_feed_failover"`
	SpreadBps              int               `mapstructure:"spread_bps"`
	TakeProfitBps          int               `mapstructure:"take_profit_bps"`
	RequoteThresholdBps    int               `mapstructure:"requote_threshold_bps"`
	MinOrderAgeMs          int64             `mapstructure:"min_order_age_ms"`
	OrderSizeUSD           float64           `mapstructure:"order_size_usd"`
	CloseThresholdUSD      float64           `mapstructure:"close_threshold_usd"`
	WarmupSeconds          int               `mapstructure:"warmup_seconds"`
	UpdateThrottleMs       int64             `mapstructure:"update_throttle_ms"`
	OrderSyncIntervalMs    int64             `mapstructure:"order_sync_interval_ms"`
	PositionSyncIntervalMs int64             `mapstructure:"position_sync_interval_ms"`
	StatusIntervalMs       int64             `mapstructure:"status_interval_ms"`
	FairPriceWindowMs      int64             `mapstructure:"fair_price_window_ms"`
}

// PositionSyncInterval is a convenience accessor used by the position tracker.
func (s StrategyConfig) PositionSyncInterval() time.Duration {
	return time.Duration(s.PositionSyncIntervalMs) * time.Millisecond
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns the strategy parameters used when a config file omits
// them.
func Defaults() StrategyConfig {
	return StrategyConfig{
		ReferenceFeed:          FeedBinance,
		EnableFeedFailover:     true,
		SpreadBps:              10,
		TakeProfitBps:          5,
		RequoteThresholdBps:    3,
		MinOrderAgeMs:          10000,
		OrderSizeUSD:           100,
		CloseThresholdUSD:      10,
		WarmupSeconds:          10,
		UpdateThrottleMs:       100,
		OrderSyncIntervalMs:    3000,
		PositionSyncIntervalMs: 5000,
		StatusIntervalMs:       1000,
		FairPriceWindowMs:      300000,
	}
}

// Load reads config from a YAML file with env var overrides. The signing
// key is overridable via MM_SIGNING_KEY so it never has to live on disk.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Defaults()
	v.SetDefault("strategy.reference_feed", string(defaults.ReferenceFeed))
	v.SetDefault("strategy.enable_feed_failover", defaults.EnableFeedFailover)
	v.SetDefault("strategy.spread_bps", defaults.SpreadBps)
	v.SetDefault("strategy.take_profit_bps", defaults.TakeProfitBps)
	v.SetDefault("strategy.requote_threshold_bps", defaults.RequoteThresholdBps)
	v.SetDefault("strategy.min_order_age_ms", defaults.MinOrderAgeMs)
	v.SetDefault("strategy.order_size_usd", defaults.OrderSizeUSD)
	v.SetDefault("strategy.close_threshold_usd", defaults.CloseThresholdUSD)
	v.SetDefault("strategy.warmup_seconds", defaults.WarmupSeconds)
	v.SetDefault("strategy.update_throttle_ms", defaults.UpdateThrottleMs)
	v.SetDefault("strategy.order_sync_interval_ms", defaults.OrderSyncIntervalMs)
	v.SetDefault("strategy.position_sync_interval_ms", defaults.PositionSyncIntervalMs)
	v.SetDefault("strategy.status_interval_ms", defaults.StatusIntervalMs)
	v.SetDefault("strategy.fair_price_window_ms", defaults.FairPriceWindowMs)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MM_SIGNING_KEY"); key != "" {
		cfg.Wallet.SigningKey = key
	}
	if os.Getenv("MM_DRY_RUN") == "true" || os.Getenv("MM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges. A failure here is
// fatal — the caller exits with code 1.
func (c *Config) Validate() error {
	if c.Market.Symbol == "" {
		return fmt.Errorf("market.symbol is required")
	}
	if c.Wallet.SigningKey == "" {
		return fmt.Errorf("wallet.signing_key is required (set MM_SIGNING_KEY)")
	}
	if c.API.RESTBaseURL == "" {
		return fmt.Errorf("api.rest_base_url is required")
	}
	switch c.Strategy.ReferenceFeed {
	case FeedBinance, FeedCoinbase, FeedNone:
	default:
		return fmt.Errorf("strategy.reference_feed must be one of: binance, coinbase, none")
	}
	if c.Strategy.SpreadBps <= 0 {
		return fmt.Errorf("strategy.spread_bps must be > 0")
	}
	if c.Strategy.OrderSizeUSD <= 0 {
		return fmt.Errorf("strategy.order_size_usd must be > 0")
	}
	if c.Strategy.CloseThresholdUSD <= 0 {
		return fmt.Errorf("strategy.close_threshold_usd must be > 0")
	}
	if c.Strategy.WarmupSeconds <= 0 {
		return fmt.Errorf("strategy.warmup_seconds must be > 0")
	}
	return nil
}
