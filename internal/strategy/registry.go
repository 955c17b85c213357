// Package strategy provides the closed strategy registry: a build-time
// mapping from configured strategy name to constructor, replacing the
// source's runtime class-by-name dispatch per the spec's redesign notes.
package strategy

import (
	"fmt"

	"bybit-perp-bot/internal/candle"
	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/pkg/types"
)

// Strategy computes a trade signal from the latest candle window. Indicator
// math is out of scope; implementations decide only the signal and may
// return a modified window (e.g. with derived indicator columns appended).
type Strategy interface {
	FindEntry(window candle.Window) (candle.Window, types.TradeSignal)
}

// Constructor builds a Strategy from the strategy/trading config sections.
type Constructor func(strategyCfg config.StrategyConfig, tradingCfg config.TradingConfig) Strategy

var registry = make(map[string]Constructor)

// Register adds a strategy constructor under name, replacing any constructor
// already registered under it. The shipped strategies call it from their
// package init() functions.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// New builds the configured strategy by name.
func New(strategyCfg config.StrategyConfig, tradingCfg config.TradingConfig) (Strategy, error) {
	ctor, ok := registry[strategyCfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q: not registered", strategyCfg.Name)
	}
	return ctor(strategyCfg, tradingCfg), nil
}
