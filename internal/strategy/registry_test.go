package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bybit-perp-bot/internal/config"
)

func TestNewBuildsRegisteredStrategy(t *testing.T) {
	s, err := New(config.StrategyConfig{Name: "no_trade"}, config.TradingConfig{})
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := New(config.StrategyConfig{Name: "does_not_exist"}, config.TradingConfig{})
	require.Error(t, err)
}

func TestRegisterOverridesExistingName(t *testing.T) {
	called := false
	Register("overridable", func(config.StrategyConfig, config.TradingConfig) Strategy {
		return &noTrade{}
	})
	Register("overridable", func(config.StrategyConfig, config.TradingConfig) Strategy {
		called = true
		return &noTrade{}
	})

	s, err := New(config.StrategyConfig{Name: "overridable"}, config.TradingConfig{})
	require.NoError(t, err)
	require.NotNil(t, s)
	require.True(t, called)
}
