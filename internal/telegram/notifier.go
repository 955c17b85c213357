// Package telegram implements a best-effort Telegram Bot API notifier for
// fatal-runtime errors, per the error handling design's optional alerting
// step. A failed or disabled notifier never blocks or fails the caller.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bybit-perp-bot/internal/config"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	postTimeout    = 5 * time.Second
)

// Notifier posts messages to a single Telegram chat via the Bot API.
type Notifier struct {
	enabled  bool
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
	logger   *slog.Logger
}

// New builds a Notifier from the telegram config section. Notify is a no-op
// when cfg.Enable is false, so callers can wire it unconditionally.
func New(cfg config.TelegramConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		enabled:  cfg.Enable,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: postTimeout},
		logger:   logger.With("component", "telegram"),
	}
}

// apiBaseOverride points Notify at an alternate API base, for tests.
func (n *Notifier) apiBaseOverride(base string) {
	n.apiBase = base
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Notify posts msg to the configured chat. Errors are logged, never
// returned: a notification failure must never itself become a fatal error.
func (n *Notifier) Notify(ctx context.Context, msg string) {
	if !n.enabled {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	body, err := json.Marshal(sendMessageRequest{ChatID: n.chatID, Text: msg})
	if err != nil {
		n.logger.Warn("marshal telegram payload failed", "error", err)
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build telegram request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("telegram notify failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("telegram notify rejected", "status", resp.StatusCode)
	}
}
