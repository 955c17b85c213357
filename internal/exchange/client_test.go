package exchange

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackoffSecondsMatchesRetryFormula(t *testing.T) {
	// (max_retries - retry_count)^2 + 1
	require.Equal(t, float64(17), backoffSeconds(0, 4))
	require.Equal(t, float64(10), backoffSeconds(1, 4))
	require.Equal(t, float64(5), backoffSeconds(2, 4))
	require.Equal(t, float64(2), backoffSeconds(3, 4))
	require.Equal(t, float64(1), backoffSeconds(4, 4))
}

func TestIsRetryableOnlyForTransientCodes(t *testing.T) {
	require.True(t, IsRetryable(&APIError{Code: 10003, Msg: "too many requests"}))
	require.True(t, IsRetryable(&APIError{Code: 130150, Msg: "please try again later"}))
	require.False(t, IsRetryable(&APIError{Code: 10001, Msg: "params error"}))
	require.False(t, IsRetryable(nil))
}

func TestIsIdempotentNoopRecognizesResetCodes(t *testing.T) {
	require.True(t, IsIdempotentNoop(&APIError{Code: 30083, Msg: "position mode not modified"}))
	require.True(t, IsIdempotentNoop(&APIError{Code: 130060, Msg: "autoAddMargin not changed"}))
	require.True(t, IsIdempotentNoop(&APIError{Code: 130056, Msg: "isolated margin not changed"}))
	require.True(t, IsIdempotentNoop(&APIError{Code: 20001, Msg: "order not exists"}))
	require.True(t, IsIdempotentNoop(&APIError{Code: 30076, Msg: "order not modified"}))
	require.True(t, IsIdempotentNoop(&APIError{Code: 30032, Msg: "pending replace"}))
	require.False(t, IsIdempotentNoop(&APIError{Code: 10001, Msg: "params error"}))
	require.False(t, IsIdempotentNoop(nil))
}

func TestIsIdempotentNoopMatchesSameTPSLModeSubstring(t *testing.T) {
	require.True(t, IsIdempotentNoop(&APIError{Code: 34040, Msg: "already Same TP SL Mode"}))
	require.False(t, IsIdempotentNoop(&APIError{Code: 34040, Msg: "some other message"}))
}

func TestAPIErrorIncludesDescriptionWhenKnown(t *testing.T) {
	err := &APIError{Code: 10003, Msg: "too many requests"}
	require.Contains(t, err.Error(), "use websocket for live updates")

	unknown := &APIError{Code: 999999, Msg: "mystery"}
	require.Contains(t, unknown.Error(), "mystery")
}
