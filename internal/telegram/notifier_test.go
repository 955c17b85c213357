package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"bybit-perp-bot/internal/config"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyDisabledSendsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(config.TelegramConfig{Enable: false}, testLogger())
	n.apiBaseOverride(srv.URL)
	n.Notify(context.Background(), "hello")

	require.False(t, called)
}

func TestNotifyEnabledPostsMessage(t *testing.T) {
	var received sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.TelegramConfig{Enable: true, BotToken: "tok", ChatID: "42"}, testLogger())
	n.apiBaseOverride(srv.URL)
	n.Notify(context.Background(), "fatal websocket timeout")

	require.Equal(t, "42", received.ChatID)
	require.Equal(t, "fatal websocket timeout", received.Text)
}
