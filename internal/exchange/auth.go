// Package exchange implements the Bybit V5 linear-perpetual REST and WebSocket
// clients: request signing, rate limiting, retry with backoff, and the typed
// per-topic websocket feeds the rest of the bot reads from.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Auth signs REST requests and builds the private websocket auth frame using
// Bybit's V5 HMAC-SHA256 scheme: sign(timestamp + api_key + recv_window + payload).
type Auth struct {
	apiKey     string
	apiSecret  string
	recvWindow string
}

// NewAuth creates an Auth from the configured API key/secret pair.
func NewAuth(apiKey, apiSecret string) *Auth {
	return &Auth{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: "5000",
	}
}

// RESTHeaders returns the X-BAPI-* headers for a signed REST request.
// payload is the raw query string for GET requests or the JSON body for POST.
func (a *Auth) RESTHeaders(payload string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := a.sign(timestamp + a.apiKey + a.recvWindow + payload)

	return map[string]string{
		"X-BAPI-API-KEY":     a.apiKey,
		"X-BAPI-SIGN":        sig,
		"X-BAPI-SIGN-TYPE":   "2",
		"X-BAPI-TIMESTAMP":   timestamp,
		"X-BAPI-RECV-WINDOW": a.recvWindow,
	}
}

// WSAuthArgs returns the [api_key, expires, signature] triplet used in the
// private websocket's "auth" op frame. expires is a Unix millisecond deadline;
// the signed string is "GET/realtime" + expires per Bybit's V5 convention.
func (a *Auth) WSAuthArgs() []string {
	expires := strconv.FormatInt(time.Now().Add(time.Minute).UnixMilli(), 10)
	sig := a.sign("GET/realtime" + expires)
	return []string{a.apiKey, expires, sig}
}

func (a *Auth) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
