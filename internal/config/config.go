// Package config defines all configuration for the trading bot. Config is loaded
// from a JSON file (default: config.json) with sensitive fields overridable via
// BOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the JSON file structure
// described in the bot's external interface (sections bot/strategy/trading/
// limit_entry/exchange/database/logging/telegram).
type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Trading    TradingConfig    `mapstructure:"trading"`
	LimitEntry LimitEntryConfig `mapstructure:"limit_entry"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
}

// BotConfig controls the main-loop scheduler and console output.
type BotConfig struct {
	ThrottleSecs     float64 `mapstructure:"throttle_secs"`
	ProgressBar      bool    `mapstructure:"progress_bar"`
	DisplayDataframe bool    `mapstructure:"display_dataframe"`
}

// StrategyConfig selects the pluggable strategy and its candle-refresh mode.
type StrategyConfig struct {
	Name                 string `mapstructure:"name"`
	SignalMode            string `mapstructure:"signal_mode"` // interval | sub_interval | realtime
	SubIntervalSecs       int    `mapstructure:"sub_interval_secs"`
	MinimumCandlesToStart int    `mapstructure:"minimum_candles_to_start"`
}

// TradingConfig sets per-trade sizing and entry-mode parameters.
type TradingConfig struct {
	Interval             string  `mapstructure:"interval"` // 1m,3m,5m,15m,30m,1h,2h,4h,1d,1w
	LeverageLong         int     `mapstructure:"leverage_long"`
	LeverageShort        int     `mapstructure:"leverage_short"`
	TakeProfit           float64 `mapstructure:"take_profit"` // fractional offset
	StopLoss             float64 `mapstructure:"stop_loss"`   // fractional offset
	TradableBalanceRatio float64 `mapstructure:"tradable_balance_ratio"`
	TradeEntryMode       string  `mapstructure:"trade_entry_mode"` // maker | taker
	ConstantTakeProfit   bool    `mapstructure:"constant_take_profit"`
}

// LimitEntryConfig tunes the limit (maker) entry state machine's abort clocks.
type LimitEntryConfig struct {
	AbortPricePct      float64 `mapstructure:"abort_price_pct"`       // 0..10
	AbortTimeCandleRatio float64 `mapstructure:"abort_time_candle_ratio"` // 0..10
}

// ExchangeConfig names the venue pair and credentials.
type ExchangeConfig struct {
	Testnet       bool   `mapstructure:"testnet"`
	Pair          string `mapstructure:"pair"`
	StakeCurrency string `mapstructure:"stake_currency"`
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	RESTBaseURL   string `mapstructure:"rest_base_url"`
	WSPublicURL   string `mapstructure:"ws_public_url"`
	WSPrivateURL  string `mapstructure:"ws_private_url"`
	MaxRetries    int    `mapstructure:"max_retries"`
}

// DatabaseConfig holds the PostgreSQL connection parameters for PersistenceSync.
type DatabaseConfig struct {
	DBName   string `mapstructure:"db_name"`
	Address  string `mapstructure:"address"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

// TelegramConfig toggles the best-effort fatal-error notifier.
type TelegramConfig struct {
	Enable   bool   `mapstructure:"enable"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Load reads config from a JSON file with env var overrides for secrets.
// Secrets: BOT_API_KEY, BOT_API_SECRET, BOT_DB_PASSWORD, BOT_TELEGRAM_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("BOT_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("BOT_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if pass := os.Getenv("BOT_DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
	if tok := os.Getenv("BOT_TELEGRAM_TOKEN"); tok != "" {
		cfg.Telegram.BotToken = tok
	}

	return &cfg, nil
}

var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "1d": true, "1w": true,
}

var validSignalModes = map[string]bool{
	"interval": true, "sub_interval": true, "realtime": true,
}

// Validate checks all required fields and value ranges. A failure here is a
// Fatal-configuration error per the error-handling taxonomy: the process must
// log and exit rather than attempt to run with an invalid config.
func (c *Config) Validate() error {
	if !strings.Contains(c.Exchange.Pair, "USDT") {
		return fmt.Errorf("exchange.pair must contain \"USDT\", got %q", c.Exchange.Pair)
	}
	if !validIntervals[c.Trading.Interval] {
		return fmt.Errorf("trading.interval %q is not one of the supported intervals", c.Trading.Interval)
	}
	if c.Trading.LeverageLong < 1 || c.Trading.LeverageLong > 50 {
		return fmt.Errorf("trading.leverage_long must be in 1..50")
	}
	if c.Trading.LeverageShort < 1 || c.Trading.LeverageShort > 50 {
		return fmt.Errorf("trading.leverage_short must be in 1..50")
	}
	if c.Trading.TradableBalanceRatio <= 0 || c.Trading.TradableBalanceRatio > 0.99 {
		return fmt.Errorf("trading.tradable_balance_ratio must be in (0, 0.99]")
	}
	if c.Trading.TradeEntryMode != "maker" && c.Trading.TradeEntryMode != "taker" {
		return fmt.Errorf("trading.trade_entry_mode must be \"maker\" or \"taker\"")
	}
	if !validSignalModes[c.Strategy.SignalMode] {
		return fmt.Errorf("strategy.signal_mode must be one of interval, sub_interval, realtime")
	}
	if c.Strategy.MinimumCandlesToStart <= 0 {
		return fmt.Errorf("strategy.minimum_candles_to_start must be > 0")
	}
	if c.Strategy.SignalMode == "sub_interval" && c.Strategy.SubIntervalSecs <= 0 {
		return fmt.Errorf("strategy.sub_interval_secs must be > 0 when signal_mode is sub_interval")
	}
	if c.LimitEntry.AbortPricePct < 0 || c.LimitEntry.AbortPricePct > 10 {
		return fmt.Errorf("limit_entry.abort_price_pct must be in 0..10")
	}
	if c.LimitEntry.AbortTimeCandleRatio < 0 || c.LimitEntry.AbortTimeCandleRatio > 10 {
		return fmt.Errorf("limit_entry.abort_time_candle_ratio must be in 0..10")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database.db_name is required")
	}
	if c.Exchange.Testnet && !strings.Contains(strings.ToLower(c.Database.DBName), "test") {
		return fmt.Errorf("database.db_name %q does not look like a test database while exchange.testnet is true; refusing to start without an explicit test db_name", c.Database.DBName)
	}
	return nil
}

// BybitIntervalLabel converts a config interval string into Bybit's kline
// wire-topic interval label (minutes as a bare number, or D/W for day/week).
func BybitIntervalLabel(interval string) (string, error) {
	switch interval {
	case "1m":
		return "1", nil
	case "3m":
		return "3", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "2h":
		return "120", nil
	case "4h":
		return "240", nil
	case "1d":
		return "D", nil
	case "1w":
		return "W", nil
	default:
		return "", fmt.Errorf("unsupported interval %q", interval)
	}
}

// IntervalSeconds converts the configured candle interval into seconds.
func IntervalSeconds(interval string) (int64, error) {
	switch interval {
	case "1m":
		return 60, nil
	case "3m":
		return 3 * 60, nil
	case "5m":
		return 5 * 60, nil
	case "15m":
		return 15 * 60, nil
	case "30m":
		return 30 * 60, nil
	case "1h":
		return 3600, nil
	case "2h":
		return 2 * 3600, nil
	case "4h":
		return 4 * 3600, nil
	case "1d":
		return 86400, nil
	case "1w":
		return 7 * 86400, nil
	default:
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
}
