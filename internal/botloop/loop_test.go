package botloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bybit-perp-bot/internal/config"
	"bybit-perp-bot/pkg/types"
)

func TestWantsEntryOnlyForEntrySignalsNotAlreadyInPosition(t *testing.T) {
	require.True(t, wantsEntry(types.TradeSignal{SignalName: types.EnterLong}, false))
	require.False(t, wantsEntry(types.TradeSignal{SignalName: types.EnterLong}, true))
	require.False(t, wantsEntry(types.TradeSignal{SignalName: types.NoTrade}, false))
	require.False(t, wantsEntry(types.TradeSignal{SignalName: types.ExitLong}, false))
}

func TestLeverageForSelectsConfiguredSide(t *testing.T) {
	trading := config.TradingConfig{LeverageLong: 10, LeverageShort: 5}
	require.Equal(t, 10, leverageFor(trading, types.Buy))
	require.Equal(t, 5, leverageFor(trading, types.Sell))
}

func TestThrottleDurationDefaultsWhenNonPositive(t *testing.T) {
	require.Equal(t, time.Second, throttleDuration(0))
	require.Equal(t, time.Second, throttleDuration(-1))
	require.Equal(t, 500*time.Millisecond, throttleDuration(0.5))
}
