package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"bybit-perp-bot/pkg/types"
)

const (
	pingInterval     = 20 * time.Second
	readTimeout      = 60 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	topicBufferSize  = 500 // spec's default bounded-buffer size per topic
)

// PriceLevel is one (price, size) row of an order book snapshot.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBookSnapshot is a top-of-book (or top-N) update carried on the
// orderbook.25 topic, versioned by the venue's microsecond timestamp.
type OrderBookSnapshot struct {
	Symbol      string
	Bids        []PriceLevel
	Asks        []PriceLevel
	TimestampE6 int64
}

// wsEnvelope is Bybit V5's common public/private push-message shape.
type wsEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // "snapshot" | "delta"
	Data  json.RawMessage `json:"data"`
	Ts    int64           `json:"ts"`
}

// Feed manages one persistent Bybit V5 websocket connection (public or
// private), with reconnect-with-backoff and ping/pong keep-alive. Inbound
// messages are routed by topic into bounded, typed, single-consumer Go
// channels — one channel per topic. This realizes the topic cache as
// channels rather than a shared destructive-read buffer; callers that ask for
// the same topic share its one channel.
type Feed struct {
	url     string
	auth    *Auth // nil for public feed
	isJSON  bool
	conn    *websocket.Conn
	connMu  sync.Mutex

	topicsMu sync.Mutex
	topics   map[string]bool

	candleChans map[string]chan types.Candle
	bookCh      chan OrderBookSnapshot
	walletCh    chan types.WalletBalance
	positionCh  chan types.Position
	orderCh     chan types.Order
	executionCh chan types.Execution

	logger *slog.Logger
}

// NewPublicFeed creates the public market-data websocket feed.
func NewPublicFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		url:         wsURL,
		topics:      make(map[string]bool),
		candleChans: make(map[string]chan types.Candle),
		bookCh:      make(chan OrderBookSnapshot, topicBufferSize),
		logger:      logger.With("component", "ws_public"),
	}
}

// NewPrivateFeed creates the authenticated account-data websocket feed.
func NewPrivateFeed(wsURL string, auth *Auth, logger *slog.Logger) *Feed {
	return &Feed{
		url:         wsURL,
		auth:        auth,
		topics:      make(map[string]bool),
		walletCh:    make(chan types.WalletBalance, topicBufferSize),
		positionCh:  make(chan types.Position, topicBufferSize),
		orderCh:     make(chan types.Order, topicBufferSize),
		executionCh: make(chan types.Execution, topicBufferSize),
		logger:      logger.With("component", "ws_private"),
	}
}

// CandleTopic returns the read-only channel for a kline wire topic of the
// form "kline.<interval>.<pair>", creating its bounded channel on first use.
// A later call with the same topic returns that same channel, so two
// consumers of one topic read from a single shared channel; no fan-out into
// separate channels takes place.
func (f *Feed) CandleTopic(topic string) <-chan types.Candle {
	f.topicsMu.Lock()
	defer f.topicsMu.Unlock()
	ch, ok := f.candleChans[topic]
	if !ok {
		ch = make(chan types.Candle, topicBufferSize)
		f.candleChans[topic] = ch
	}
	return ch
}

// OrderBookTopic returns the read-only order book snapshot channel.
func (f *Feed) OrderBookTopic() <-chan OrderBookSnapshot { return f.bookCh }

// WalletTopic returns the read-only wallet-balance update channel.
func (f *Feed) WalletTopic() <-chan types.WalletBalance { return f.walletCh }

// PositionTopic returns the read-only position update channel.
func (f *Feed) PositionTopic() <-chan types.Position { return f.positionCh }

// OrderTopic returns the read-only order lifecycle update channel.
func (f *Feed) OrderTopic() <-chan types.Order { return f.orderCh }

// ExecutionTopic returns the read-only execution (fill) update channel.
func (f *Feed) ExecutionTopic() <-chan types.Execution { return f.executionCh }

// Subscribe adds wire-level topic strings (Bybit's own "kline.5.BTCUSDT"
// naming, or for private feeds the fixed "wallet"/"position"/"order"/
// "execution" topics) to the subscription set and sends the subscribe frame
// if connected.
func (f *Feed) Subscribe(wireTopics ...string) error {
	f.topicsMu.Lock()
	for _, t := range wireTopics {
		f.topics[t] = true
	}
	f.topicsMu.Unlock()

	if f.connNil() {
		return nil // queued; sendInitialSubscription will pick these up on connect
	}
	return f.writeJSON(map[string]interface{}{"op": "subscribe", "args": wireTopics})
}

func (f *Feed) connNil() bool {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.conn == nil
}

// Run connects and maintains the connection with exponential backoff until
// ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the underlying connection, if any.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if f.auth != nil {
		if err := f.writeJSON(map[string]interface{}{"op": "auth", "args": f.auth.WSAuthArgs()}); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *Feed) sendInitialSubscription() error {
	f.topicsMu.Lock()
	topics := make([]string, 0, len(f.topics))
	for t := range f.topics {
		topics = append(topics, t)
	}
	f.topicsMu.Unlock()

	if len(topics) == 0 {
		return nil
	}
	return f.writeJSON(map[string]interface{}{"op": "subscribe", "args": topics})
}

func (f *Feed) dispatchMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Topic == "" {
		f.logger.Debug("ignoring non-topic ws message", "data", string(data))
		return
	}

	switch {
	case strings.HasPrefix(env.Topic, "kline."):
		f.dispatchCandle(env)
	case strings.HasPrefix(env.Topic, "orderbook."):
		f.dispatchOrderBook(env)
	case env.Topic == "wallet":
		f.dispatchWallet(env)
	case env.Topic == "position":
		f.dispatchPosition(env)
	case env.Topic == "order":
		f.dispatchOrder(env)
	case env.Topic == "execution":
		f.dispatchExecution(env)
	default:
		f.logger.Debug("unhandled ws topic", "topic", env.Topic)
	}
}

func (f *Feed) dispatchCandle(env wsEnvelope) {
	var rows []struct {
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
		Open    string `json:"open"`
		High    string `json:"high"`
		Low     string `json:"low"`
		Close   string `json:"close"`
		Volume  string `json:"volume"`
		Confirm bool   `json:"confirm"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		f.logger.Error("unmarshal kline push", "error", err)
		return
	}

	f.topicsMu.Lock()
	ch, ok := f.candleChans[env.Topic]
	f.topicsMu.Unlock()
	if !ok {
		return
	}

	for _, r := range rows {
		c := types.Candle{
			Start:     r.Start / 1000,
			End:       r.End / 1000,
			Open:      decimal.RequireFromString(r.Open),
			High:      decimal.RequireFromString(r.High),
			Low:       decimal.RequireFromString(r.Low),
			Close:     decimal.RequireFromString(r.Close),
			Volume:    decimal.RequireFromString(r.Volume),
			Confirm:   r.Confirm,
			Timestamp: env.Ts * 1000,
		}
		select {
		case ch <- c:
		default:
			f.logger.Warn("candle channel full, dropping", "topic", env.Topic)
		}
	}
}

func (f *Feed) dispatchOrderBook(env wsEnvelope) {
	var payload struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		f.logger.Error("unmarshal orderbook push", "error", err)
		return
	}

	snap := OrderBookSnapshot{
		Symbol:      payload.Symbol,
		TimestampE6: env.Ts * 1000,
		Bids:        parseLevels(payload.Bids),
		Asks:        parseLevels(payload.Asks),
	}
	select {
	case f.bookCh <- snap:
	default:
		f.logger.Warn("orderbook channel full, dropping")
	}
}

func parseLevels(rows [][]string) []PriceLevel {
	levels := make([]PriceLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		levels = append(levels, PriceLevel{
			Price: decimal.RequireFromString(r[0]),
			Size:  decimal.RequireFromString(r[1]),
		})
	}
	return levels
}

func (f *Feed) dispatchWallet(env wsEnvelope) {
	var rows []struct {
		Coin []types.WalletBalance `json:"coin"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		f.logger.Error("unmarshal wallet push", "error", err)
		return
	}
	for _, r := range rows {
		for _, bal := range r.Coin {
			select {
			case f.walletCh <- bal:
			default:
				f.logger.Warn("wallet channel full, dropping")
			}
		}
	}
}

func (f *Feed) dispatchPosition(env wsEnvelope) {
	var rows []types.Position
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		f.logger.Error("unmarshal position push", "error", err)
		return
	}
	for _, p := range rows {
		select {
		case f.positionCh <- p:
		default:
			f.logger.Warn("position channel full, dropping")
		}
	}
}

func (f *Feed) dispatchOrder(env wsEnvelope) {
	var rows []types.Order
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		f.logger.Error("unmarshal order push", "error", err)
		return
	}
	for _, o := range rows {
		select {
		case f.orderCh <- o:
		default:
			f.logger.Warn("order channel full, dropping", "order_id", o.OrderID)
		}
	}
}

func (f *Feed) dispatchExecution(env wsEnvelope) {
	var rows []types.Execution
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		f.logger.Error("unmarshal execution push", "error", err)
		return
	}
	for _, e := range rows {
		select {
		case f.executionCh <- e:
		default:
			f.logger.Warn("execution channel full, dropping", "exec_id", e.ExecID)
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]interface{}{"op": "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

// KlineWireTopic builds Bybit's wire-level kline topic for a numeric-minute
// interval label (e.g. "5" for 5m, "D" for 1d) and symbol.
func KlineWireTopic(intervalLabel, symbol string) string {
	return fmt.Sprintf("kline.%s.%s", intervalLabel, symbol)
}

// OrderBookWireTopic builds Bybit's wire-level order book topic for the
// top-25-depth stream.
func OrderBookWireTopic(symbol string) string {
	return fmt.Sprintf("orderbook.25.%s", symbol)
}
