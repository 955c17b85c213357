// Package botloop wires every subsystem together into the single-pair,
// single-strategy BotLoop: a cooperative main loop plus two background
// websocket workers, per the concurrency model. There is no multi-market
// slot map here — the spec trades exactly one configured pair.
package botloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bybit-perp-bot/internal/candle"
	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/internal/entry"
	"bybit-perp-bot/internal/exchange"
	"bybit-perp-bot/internal/orderbook"
	"bybit-perp-bot/internal/orders"
	"bybit-perp-bot/internal/persistence"
	"bybit-perp-bot/internal/position"
	"bybit-perp-bot/internal/strategy"
	"bybit-perp-bot/internal/telegram"
	"bybit-perp-bot/pkg/types"
)

// BotLoop owns the lifecycle of every component for one trading pair.
type BotLoop struct {
	cfg    config.Config
	logger *slog.Logger

	client      *exchange.Client
	publicFeed  *exchange.Feed
	privateFeed *exchange.Feed
	book        *orderbook.Book
	positions   *position.Tracker
	orderMgr    *orders.Manager
	candleAgg   *candle.Aggregator
	entryEngine *entry.Engine
	strat       strategy.Strategy
	db          *persistence.DB
	persistSync *persistence.Sync
	notifier    *telegram.Notifier

	candleCh <-chan types.Candle
	minuteCh <-chan types.Candle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds and wires every component from cfg. It performs the one-time
// startup REST calls (instrument metadata, startup reset, initial position
// refresh) but starts no goroutines; call Start for that.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BotLoop, error) {
	pair := cfg.Exchange.Pair

	client := exchange.NewClient(cfg.Exchange, logger)

	if err := client.RunStartupReset(ctx, pair); err != nil {
		return nil, fmt.Errorf("startup reset: %w", err)
	}

	instrument, err := client.QuerySymbol(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("query_symbol: %w", err)
	}

	intervalLabel, err := config.BybitIntervalLabel(cfg.Trading.Interval)
	if err != nil {
		return nil, err
	}
	intervalSeconds, err := config.IntervalSeconds(cfg.Trading.Interval)
	if err != nil {
		return nil, err
	}

	auth := exchange.NewAuth(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	publicFeed := exchange.NewPublicFeed(cfg.Exchange.WSPublicURL, logger)
	privateFeed := exchange.NewPrivateFeed(cfg.Exchange.WSPrivateURL, auth, logger)

	candleCh := publicFeed.CandleTopic(exchange.KlineWireTopic(intervalLabel, pair))
	var minuteCh <-chan types.Candle
	if cfg.Strategy.SignalMode == "sub_interval" {
		minuteCh = publicFeed.CandleTopic(exchange.KlineWireTopic("1", pair))
		if err := publicFeed.Subscribe(exchange.KlineWireTopic(intervalLabel, pair), exchange.KlineWireTopic("1", pair)); err != nil {
			return nil, fmt.Errorf("subscribe candle topics: %w", err)
		}
	} else {
		if err := publicFeed.Subscribe(exchange.KlineWireTopic(intervalLabel, pair)); err != nil {
			return nil, fmt.Errorf("subscribe candle topic: %w", err)
		}
	}
	if err := publicFeed.Subscribe(exchange.OrderBookWireTopic(pair)); err != nil {
		return nil, fmt.Errorf("subscribe orderbook topic: %w", err)
	}
	if err := privateFeed.Subscribe("wallet", "position", "order", "execution"); err != nil {
		return nil, fmt.Errorf("subscribe private topics: %w", err)
	}

	book := orderbook.New(pair)

	positions := position.New(pair, client, logger)
	if err := positions.RefreshFromREST(ctx); err != nil {
		return nil, fmt.Errorf("initial position refresh: %w", err)
	}

	db, err := persistence.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	persistSync := persistence.New(db, client, logger)
	orderMgr := orders.New(pair, client, privateFeed.OrderTopic(), persistSync, logger)

	mode := candle.Mode(cfg.Strategy.SignalMode)
	candleAgg := candle.New(candle.Config{
		Pair:                  pair,
		IntervalLabel:         intervalLabel,
		IntervalSeconds:       intervalSeconds,
		Mode:                  mode,
		SubIntervalSecs:       int64(cfg.Strategy.SubIntervalSecs),
		MinimumCandlesToStart: cfg.Strategy.MinimumCandlesToStart,
		Backfill:              client,
		Logger:                logger,
	})

	strat, err := strategy.New(cfg.Strategy, cfg.Trading)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}

	entryEngine := entry.New(pair, cfg.Exchange.StakeCurrency, cfg.Trading, cfg.LimitEntry,
		*instrument, client, orderMgr, positions, book, privateFeed.ExecutionTopic(), logger)

	loopCtx, cancel := context.WithCancel(ctx)

	return &BotLoop{
		cfg:         cfg,
		logger:      logger.With("component", "bot_loop"),
		client:      client,
		publicFeed:  publicFeed,
		privateFeed: privateFeed,
		book:        book,
		positions:   positions,
		orderMgr:    orderMgr,
		candleAgg:   candleAgg,
		entryEngine: entryEngine,
		strat:       strat,
		db:          db,
		persistSync: persistSync,
		notifier:    telegram.New(cfg.Telegram, logger),
		candleCh:    candleCh,
		minuteCh:    minuteCh,
		ctx:         loopCtx,
		cancel:      cancel,
	}, nil
}

// Start launches the two background websocket workers and the cooperative
// main loop. It returns immediately; callers wait on ctx cancellation and
// then call Stop.
func (b *BotLoop) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runFeed("public", b.publicFeed)
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runFeed("private", b.privateFeed)
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.book.Run(b.ctx, b.publicFeed.OrderBookTopic())
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.positions.Run(b.ctx, b.privateFeed.PositionTopic())
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.candleAgg.Run(b.ctx, b.candleCh, b.minuteCh); err != nil && b.ctx.Err() == nil {
			b.logger.Error("candle aggregator stopped", "error", err)
		}
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.mainLoop()
	}()
}

// runFeed runs a websocket feed until ctx cancellation, self-restarting the
// whole process on an unexpected exit per the cancellation policy's
// allowance for process-level self-restart on fatal websocket exceptions.
func (b *BotLoop) runFeed(name string, feed *exchange.Feed) {
	err := feed.Run(b.ctx)
	if b.ctx.Err() != nil {
		return
	}
	b.logger.Error("fatal: websocket feed exited unexpectedly", "feed", name, "error", err)
	b.notifier.Notify(context.Background(), fmt.Sprintf("fatal: %s websocket feed exited: %v", name, err))
	restartSelf(b.logger)
}

// mainLoop is the single-threaded cooperative scheduler: on each tick where
// the candle window has changed it asks the strategy for a signal and
// dispatches an entry if warranted; every tick then throttles.
func (b *BotLoop) mainLoop() {
	throttle := throttleDuration(b.cfg.Bot.ThrottleSecs)

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		window, changed := b.candleAgg.Refreshed()
		if changed {
			_, signal := b.strat.FindEntry(window)
			if err := b.persistSync.RecordSignal(b.ctx, signal); err != nil {
				b.logger.Warn("record signal failed", "error", err)
			}
			b.dispatchSignal(signal)
		}

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(throttle):
		}
	}
}

// dispatchSignal drives a TradeEntryEngine entry when the signal warrants one
// and no position is already open on that side.
func (b *BotLoop) dispatchSignal(signal types.TradeSignal) {
	side := signal.SignalName.Side()
	if !wantsEntry(signal, b.positions.InPosition(side)) {
		return
	}

	if err := b.positions.ReconcileLeverage(b.ctx, b.leverageFor(side)); err != nil {
		b.logger.Error("reconcile leverage failed", "error", err)
		return
	}

	var err error
	if b.cfg.Trading.TradeEntryMode == "maker" {
		var qty, stopLoss decimal.Decimal
		qty, stopLoss, _, err = b.entryEngine.Sizing(b.ctx, side, signal.EntryPrice)
		if err == nil {
			err = b.entryEngine.EnterLimit(b.ctx, side, qty, signal.EntryPrice, stopLoss)
		}
	} else {
		err = b.entryEngine.EnterMarket(b.ctx, signal)
	}
	if err != nil {
		b.logger.Error("trade entry failed", "signal", signal.SignalName, "error", err)
	}
}

func (b *BotLoop) leverageFor(side types.Side) int {
	return leverageFor(b.cfg.Trading, side)
}

func leverageFor(trading config.TradingConfig, side types.Side) int {
	if side == types.Sell {
		return trading.LeverageShort
	}
	return trading.LeverageLong
}

// wantsEntry reports whether a signal should cause a trade entry, given
// whether that side is already in position.
func wantsEntry(signal types.TradeSignal, alreadyInPosition bool) bool {
	return signal.SignalName.IsEntry() && !alreadyInPosition
}

// throttleDuration converts the configured throttle_secs into a duration,
// defaulting to one second for a non-positive config value.
func throttleDuration(secs float64) time.Duration {
	d := time.Duration(secs * float64(time.Second))
	if d <= 0 {
		return time.Second
	}
	return d
}

// Stop cancels every background worker, runs a final persistence sync so no
// in-flight state is lost, and releases resources.
func (b *BotLoop) Stop() {
	b.logger.Info("shutting down")
	b.cancel()
	b.wg.Wait()

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer syncCancel()
	if err := b.persistSync.SyncAll(syncCtx, b.cfg.Exchange.Pair); err != nil {
		b.logger.Error("final persistence sync failed", "error", err)
	}

	b.publicFeed.Close()
	b.privateFeed.Close()
	b.db.Close()
	b.logger.Info("shutdown complete")
}
