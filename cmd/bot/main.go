// bybit-perp-bot trades a single Bybit V5 linear-perpetual pair: it watches
// a candle window, asks the configured strategy for an entry signal, and
// drives the taker or maker entry state machine to completion while
// mirroring a dynamic take-profit and syncing order/fill history to
// PostgreSQL.
//
// Architecture:
//
//	cmd/bot/main.go          — entry point: load config, build logger, wire, run, wait, shut down
//	internal/botloop         — BotLoop: cooperative scheduler + the two websocket workers
//	internal/strategy        — closed registry of Strategy implementations (find_entry)
//	internal/entry           — TradeEntryEngine: market/limit entry, TP mirroring
//	internal/candle          — CandleAggregator: maintained OHLCV window
//	internal/orderbook       — local top-of-book mirror
//	internal/position        — long/short position tracker
//	internal/orders          — order CRUD + hybrid status lookup
//	internal/persistence     — PersistenceSync: Postgres mirror of venue history
//	internal/exchange        — Bybit V5 REST + dual websocket gateway
//	internal/telegram        — best-effort fatal-error notifier
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bybit-perp-bot/internal/botloop"
	"bybit-perp-bot/internal/config"
)

func main() {
	cfgPath := "config.json"
	if p := os.Getenv("BOT_CONFIG"); p != "" {
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

	logger := slog.New(newLogHandler(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop, err := botloop.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to build bot", "error", err)
		os.Exit(1)
	}

	loop.Start()
	logger.Info("bot started",
		"pair", cfg.Exchange.Pair,
		"interval", cfg.Trading.Interval,
		"strategy", cfg.Strategy.Name,
		"entry_mode", cfg.Trading.TradeEntryMode,
		"testnet", cfg.Exchange.Testnet,
	)

	<-ctx.Done()
	logger.Info("received shutdown signal")
	loop.Stop()
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
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
