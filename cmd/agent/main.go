// Command agent runs the perpetual-futures market-making agent: a
// single-market quoting loop fusing an external reference feed with a
// local venue's orderbook and account streams.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts the orchestrator, waits for SIGINT/SIGTERM
//	internal/orchestrator      — wires every component, owns the throttle/warmup/failover/resync timers
//	internal/fairprice         — streaming median-offset fair-price estimator
//	internal/book              — local orderbook: snapshot-plus-buffered-deltas handshake
//	internal/account           — account stream: tracked-order mirror, exactly-once fill delivery
//	internal/position          — optimistic position tracking with periodic server reconciliation
//	internal/quote             — tick/lot-aligned quote generation
//	internal/requote           — re-quote guard: keeps orders resting unless stale and far from target
//	internal/orders            — atomic order planner: minimal diff, bounded atomic batches
//	internal/venue             — REST/WebSocket transport and EIP-712 submission signing
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"perpmm/internal/config"
	"perpmm/internal/orchestrator"
	"perpmm/internal/venue"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	signer, err := venue.NewSigner(cfg.Wallet)
	if err != nil {
		logger.Error("failed to build signer", "error", err)
		os.Exit(1)
	}

	client := venue.NewClient(cfg.API.RESTBaseURL, signer, cfg.DryRun, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params, err := client.MarketInfo(ctx, cfg.Market.Symbol)
	if err != nil {
		logger.Error("failed to resolve market symbol", "error", err, "symbol", cfg.Market.Symbol)
		os.Exit(1)
	}

	agent := orchestrator.New(cfg, client, signer, params, logger)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("agent starting",
		"market", params.MarketID,
		"symbol", params.Symbol,
		"reference_feed", cfg.Strategy.ReferenceFeed,
		"dry_run", cfg.DryRun,
	)

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("agent shut down cleanly")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
