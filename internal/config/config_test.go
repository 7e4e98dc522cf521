package config

import "testing"

func validConfig() Config {
	cfg := Config{
		Market:   MarketConfig{Symbol: "BTC"},
		Wallet:   WalletConfig{SigningKey: "deadbeef"},
		API:      APIConfig{RESTBaseURL: "https://venue.example/api"},
		Strategy: Defaults(),
	}
	return cfg
}

func TestValidateOK(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidateMissingSymbol(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Market.Symbol = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing symbol")
	}
}

func TestValidateMissingSigningKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Wallet.SigningKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing signing key")
	}
}

func TestValidateBadReferenceFeed(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Strategy.ReferenceFeed = "kraken"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown reference feed")
	}
}

func TestDefaultsHaveExpectedValues(t *testing.T) {
	t.Parallel()
	d := Defaults()
	if d.SpreadBps != 10 || d.TakeProfitBps != 5 || d.RequoteThresholdBps != 3 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
	if d.CloseThresholdUSD != 10 || d.OrderSizeUSD != 100 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}
