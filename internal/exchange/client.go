package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/pkg/types"
)

// envelope is Bybit V5's common REST response wrapper. ret_code 0 means success;
// any other code is a structured venue error regardless of HTTP status.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Client is the Bybit V5 linear-perpetual REST gateway. It owns request
// signing, retry-with-backoff, and per-category rate limiting; the gateway's
// websocket half lives in ws.go.
type Client struct {
	http       *resty.Client
	auth       *Auth
	rl         *RateLimiter
	maxRetries int
	logger     *slog.Logger
}

// NewClient builds a REST gateway configured per the exchange section of cfg.
func NewClient(cfg config.ExchangeConfig, logger *slog.Logger) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}

	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:       httpClient,
		auth:       NewAuth(cfg.APIKey, cfg.APISecret),
		rl:         NewRateLimiter(),
		maxRetries: maxRetries,
		logger:     logger.With("component", "exchange_gateway"),
	}
}

// backoffSeconds implements the spec's retry formula:
// (max_retries - retry_count)^2 + 1, applied only to DDoS-protection/
// not-found-class transient errors.
func backoffSeconds(retryCount, maxRetries int) float64 {
	d := float64(maxRetries - retryCount)
	return d*d + 1
}

// doRetrying executes op up to c.maxRetries+1 times. On a retryable APIError
// it sleeps backoffSeconds before the next attempt; other errors are retried
// immediately (network hiccups) up to the same count. A non-retryable
// APIError returns immediately as a structured error, per spec.
func (c *Client) doRetrying(ctx context.Context, bucket *TokenBucket, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := bucket.Wait(ctx); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		var apiErr *APIError
		isAPIErr := false
		if ae, ok := lastErr.(*APIError); ok {
			apiErr = ae
			isAPIErr = true
		}

		if isAPIErr && !IsRetryable(apiErr) {
			return lastErr
		}
		if attempt == c.maxRetries {
			break
		}

		wait := time.Duration(0)
		if isAPIErr {
			wait = time.Duration(backoffSeconds(attempt, c.maxRetries) * float64(time.Second))
		}
		c.logger.Warn("retrying request", "attempt", attempt, "wait", wait, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	qs := query.Encode()
	headers := c.auth.RESTHeaders(qs)

	var env envelope
	req := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&env)
	if qs != "" {
		req = req.SetQueryString(qs)
	}
	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Msg: env.RetMsg}
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode())
	}
	if out != nil {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	headers := c.auth.RESTHeaders(string(bodyBytes))

	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(bodyBytes).
		SetResult(&env).
		Post(path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Msg: env.RetMsg}
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode())
	}
	if out != nil {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

// PlaceOrderRequest is the payload for PlaceOrder.
type PlaceOrderRequest struct {
	Symbol      string
	Side        types.Side
	OrderType   types.OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal // zero for Market
	TimeInForce types.TimeInForce
	StopLoss    decimal.Decimal // zero if not set
	TakeProfit  decimal.Decimal // zero if not set
	ReduceOnly  bool
	OrderLinkID string
}

// PlaceOrder submits a new active order.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*types.Order, error) {
	body := map[string]interface{}{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"orderType":   string(req.OrderType),
		"qty":         req.Qty.String(),
		"timeInForce": string(req.TimeInForce),
		"reduceOnly":  req.ReduceOnly,
		"orderLinkId": req.OrderLinkID,
	}
	if !req.Price.IsZero() {
		body["price"] = req.Price.String()
	}
	if !req.StopLoss.IsZero() {
		body["stopLoss"] = req.StopLoss.String()
	}
	if !req.TakeProfit.IsZero() {
		body["takeProfit"] = req.TakeProfit.String()
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	err := c.doRetrying(ctx, c.rl.Order, func() error {
		return c.post(ctx, "/v5/order/create", body, &result)
	})
	if err != nil {
		return nil, err
	}

	return &types.Order{
		OrderID:     result.OrderID,
		OrderLinkID: result.OrderLinkID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderType:   req.OrderType,
		Price:       req.Price,
		Qty:         req.Qty,
		TimeInForce: req.TimeInForce,
		OrderStatus: types.Created,
		TakeProfit:  req.TakeProfit,
		StopLoss:    req.StopLoss,
		ReduceOnly:  req.ReduceOnly,
		CreatedTime: time.Now(),
	}, nil
}

// ReplaceActiveOrder amends price and/or qty on a resting limit order,
// resending stop_loss unchanged on every call per 4.6.2's
// replace_active_order(O, new_price, stop_loss=original) contract.
func (c *Client) ReplaceActiveOrder(ctx context.Context, symbol, orderID string, price, qty, stopLoss decimal.Decimal) error {
	body := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	if !price.IsZero() {
		body["price"] = price.String()
	}
	if !qty.IsZero() {
		body["qty"] = qty.String()
	}
	if !stopLoss.IsZero() {
		body["stopLoss"] = stopLoss.String()
	}
	return c.doRetrying(ctx, c.rl.Order, func() error {
		return c.post(ctx, "/v5/order/amend", body, nil)
	})
}

// CancelActiveOrder cancels a resting order by ID.
func (c *Client) CancelActiveOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return c.doRetrying(ctx, c.rl.Order, func() error {
		return c.post(ctx, "/v5/order/cancel", body, nil)
	})
}

// GetOrderByID queries the real-time state of an order by ID.
func (c *Client) GetOrderByID(ctx context.Context, symbol, orderID string) (*types.Order, error) {
	q := url.Values{"category": {"linear"}, "symbol": {symbol}, "orderId": {orderID}}
	var result struct {
		List []types.Order `json:"list"`
	}
	err := c.doRetrying(ctx, c.rl.Order, func() error {
		return c.get(ctx, "/v5/order/realtime", q, &result)
	})
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return &result.List[0], nil
}

// GetActiveOrder lists open active orders for a symbol.
func (c *Client) GetActiveOrder(ctx context.Context, symbol string) ([]types.Order, error) {
	q := url.Values{"category": {"linear"}, "symbol": {symbol}}
	var result struct {
		List []types.Order `json:"list"`
	}
	err := c.doRetrying(ctx, c.rl.Order, func() error {
		return c.get(ctx, "/v5/order/realtime", q, &result)
	})
	return result.List, err
}

// GetConditionalOrder lists open conditional (stop) orders for a symbol.
func (c *Client) GetConditionalOrder(ctx context.Context, symbol string) ([]types.ConditionalOrder, error) {
	q := url.Values{"category": {"linear"}, "symbol": {symbol}, "orderFilter": {"StopOrder"}}
	var result struct {
		List []types.ConditionalOrder `json:"list"`
	}
	err := c.doRetrying(ctx, c.rl.Order, func() error {
		return c.get(ctx, "/v5/order/realtime", q, &result)
	})
	return result.List, err
}

// MyPosition queries the current open positions for a symbol (REST fallback
// when the private position topic is empty).
func (c *Client) MyPosition(ctx context.Context, symbol string) ([]types.Position, error) {
	q := url.Values{"category": {"linear"}, "symbol": {symbol}}
	var result struct {
		List []types.Position `json:"list"`
	}
	err := c.doRetrying(ctx, c.rl.Position, func() error {
		return c.get(ctx, "/v5/position/list", q, &result)
	})
	return result.List, err
}

// GetWalletBalance queries the free/used balance for the given coin.
func (c *Client) GetWalletBalance(ctx context.Context, coin string) (*types.WalletBalance, error) {
	q := url.Values{"accountType": {"UNIFIED"}, "coin": {coin}}
	var result struct {
		List []struct {
			Coin []types.WalletBalance `json:"coin"`
		} `json:"list"`
	}
	err := c.doRetrying(ctx, c.rl.Market, func() error {
		return c.get(ctx, "/v5/account/wallet-balance", q, &result)
	})
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 || len(result.List[0].Coin) == 0 {
		return nil, fmt.Errorf("no wallet balance for coin %s", coin)
	}
	return &result.List[0].Coin[0], nil
}

// SetLeverage sets both-side leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  fmt.Sprintf("%d", leverage),
		"sellLeverage": fmt.Sprintf("%d", leverage),
	}
	return c.doRetrying(ctx, c.rl.Position, func() error {
		return c.post(ctx, "/v5/position/set-leverage", body, nil)
	})
}

// PositionModeSwitch sets hedge (BothSide) or one-way mode for a symbol.
func (c *Client) PositionModeSwitch(ctx context.Context, symbol string, mode int) error {
	body := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"mode":     mode,
	}
	return c.doRetrying(ctx, c.rl.Position, func() error {
		return c.post(ctx, "/v5/position/switch-mode", body, nil)
	})
}

// SetAutoAddMargin toggles auto-add-margin for one side of a symbol.
func (c *Client) SetAutoAddMargin(ctx context.Context, symbol string, side types.Side, enabled bool) error {
	auto := 0
	if enabled {
		auto = 1
	}
	body := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"autoAddMargin": auto,
		"positionIdx":  positionIdx(side),
	}
	return c.doRetrying(ctx, c.rl.Position, func() error {
		return c.post(ctx, "/v5/position/set-auto-add-margin", body, nil)
	})
}

// CrossIsolatedMarginSwitch switches margin mode and sets leverage for both sides.
func (c *Client) CrossIsolatedMarginSwitch(ctx context.Context, symbol string, isolated bool, leverage int) error {
	tradeMode := 0
	if isolated {
		tradeMode = 1
	}
	body := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"tradeMode":    tradeMode,
		"buyLeverage":  fmt.Sprintf("%d", leverage),
		"sellLeverage": fmt.Sprintf("%d", leverage),
	}
	return c.doRetrying(ctx, c.rl.Position, func() error {
		return c.post(ctx, "/v5/position/switch-isolated", body, nil)
	})
}

// FullPartialPositionTPSLSwitch sets TP/SL mode to "Full" or "Partial".
func (c *Client) FullPartialPositionTPSLSwitch(ctx context.Context, symbol string, full bool) error {
	mode := "Partial"
	if full {
		mode = "Full"
	}
	body := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"tpSlMode": mode,
	}
	return c.doRetrying(ctx, c.rl.Position, func() error {
		return c.post(ctx, "/v5/position/set-tpsl-mode", body, nil)
	})
}

// SetTradingStop updates the venue-side stop loss on an already-open
// position. It sends no take-profit value.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, side types.Side, stopLoss decimal.Decimal) error {
	body := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"stopLoss":    stopLoss.String(),
		"positionIdx": positionIdx(side),
	}
	return c.doRetrying(ctx, c.rl.Position, func() error {
		return c.post(ctx, "/v5/position/trading-stop", body, nil)
	})
}

// QueryKline fetches historical OHLCV candles, used for cold-start backfill
// and gap recovery.
func (c *Client) QueryKline(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]types.Candle, error) {
	q := url.Values{
		"category": {"linear"},
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {fmt.Sprintf("%d", limit)},
	}
	if start > 0 {
		q.Set("start", fmt.Sprintf("%d", start*1000))
	}
	if end > 0 {
		q.Set("end", fmt.Sprintf("%d", end*1000))
	}

	var result struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"` // [start, open, high, low, close, volume, turnover]
	}
	err := c.doRetrying(ctx, c.rl.Market, func() error {
		return c.get(ctx, "/v5/market/kline", q, &result)
	})
	if err != nil {
		return nil, err
	}

	var intervalSecs int64
	switch interval {
	case "D":
		intervalSecs = 86400
	case "W":
		intervalSecs = 7 * 86400
	default:
		minutes, _ := strconv.ParseInt(interval, 10, 64)
		intervalSecs = minutes * 60
	}

	candles := make([]types.Candle, 0, len(result.List))
	for _, row := range result.List {
		if len(row) < 6 {
			continue
		}
		c := parseKlineRow(symbol, row)
		c.End = c.Start + intervalSecs
		candles = append(candles, c)
	}
	// Bybit returns newest-first; callers expect chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func parseKlineRow(symbol string, row []string) types.Candle {
	startMs := decimal.RequireFromString(row[0])
	startSec := startMs.Div(decimal.NewFromInt(1000)).IntPart()
	return types.Candle{
		Start:     startSec,
		Pair:      symbol,
		Open:      decimal.RequireFromString(row[1]),
		High:      decimal.RequireFromString(row[2]),
		Low:       decimal.RequireFromString(row[3]),
		Close:     decimal.RequireFromString(row[4]),
		Volume:    decimal.RequireFromString(row[5]),
		Confirm:   true,
		Timestamp: startMs.IntPart() * 1000,
	}
}

// QuerySymbol fetches instrument metadata (tick size, qty step, min order qty).
func (c *Client) QuerySymbol(ctx context.Context, symbol string) (*types.InstrumentInfo, error) {
	q := url.Values{"category": {"linear"}, "symbol": {symbol}}
	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
				MinQty  string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	err := c.doRetrying(ctx, c.rl.Market, func() error {
		return c.get(ctx, "/v5/market/instruments-info", q, &result)
	})
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("symbol %s not found", symbol)
	}
	item := result.List[0]
	return &types.InstrumentInfo{
		Symbol:   item.Symbol,
		TickSize: decimal.RequireFromString(item.PriceFilter.TickSize),
		QtyStep:  decimal.RequireFromString(item.LotSizeFilter.QtyStep),
		MinQty:   decimal.RequireFromString(item.LotSizeFilter.MinQty),
	}, nil
}

// ClosedProfitAndLoss fetches closed-position realized P&L records.
func (c *Client) ClosedProfitAndLoss(ctx context.Context, symbol string, limit int) ([]types.ClosedPnL, error) {
	q := url.Values{"category": {"linear"}, "symbol": {symbol}, "limit": {fmt.Sprintf("%d", limit)}}
	var result struct {
		List []types.ClosedPnL `json:"list"`
	}
	err := c.doRetrying(ctx, c.rl.Market, func() error {
		return c.get(ctx, "/v5/position/closed-pnl", q, &result)
	})
	return result.List, err
}

// UserTradeRecords fetches execution history for a symbol.
func (c *Client) UserTradeRecords(ctx context.Context, symbol string, limit int) ([]types.Execution, error) {
	q := url.Values{"category": {"linear"}, "symbol": {symbol}, "limit": {fmt.Sprintf("%d", limit)}}
	var result struct {
		List []types.Execution `json:"list"`
	}
	err := c.doRetrying(ctx, c.rl.Market, func() error {
		return c.get(ctx, "/v5/execution/list", q, &result)
	})
	return result.List, err
}

// RunStartupReset performs the idempotent four-step reset sequence expected
// to tolerate repeat invocation: hedge mode, disable auto-add-margin both
// sides, isolated margin at 1x, full TP/SL mode.
func (c *Client) RunStartupReset(ctx context.Context, symbol string) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"position_mode_switch", func() error { return c.PositionModeSwitch(ctx, symbol, 3) }},
		{"auto_add_margin_buy", func() error { return c.SetAutoAddMargin(ctx, symbol, types.Buy, false) }},
		{"auto_add_margin_sell", func() error { return c.SetAutoAddMargin(ctx, symbol, types.Sell, false) }},
		{"isolated_margin", func() error { return c.CrossIsolatedMarginSwitch(ctx, symbol, true, 1) }},
		{"tpsl_mode_full", func() error { return c.FullPartialPositionTPSLSwitch(ctx, symbol, true) }},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			if IsIdempotentNoop(err) {
				c.logger.Debug("startup reset step already satisfied", "step", step.name)
				continue
			}
			return fmt.Errorf("startup reset step %s: %w", step.name, err)
		}
	}
	return nil
}

func positionIdx(side types.Side) int {
	if side == types.Buy {
		return 1
	}
	return 2
}

// roundSeconds rounds v to the nearest whole number of seconds. Nothing in the
// package calls it.
func roundSeconds(v float64) int64 {
	return int64(math.Round(v))
}
