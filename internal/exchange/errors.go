package exchange

import (
	"fmt"
	"strings"
)

// APIError wraps a Bybit V5 ret_code/ret_msg pair returned inside an
// HTTP-200 envelope. Bybit signals most failures this way rather than via
// HTTP status, so callers must inspect ret_code on every response.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	if desc, ok := errorCodeDescriptions[e.Code]; ok {
		return fmt.Sprintf("bybit error %d: %s (%s)", e.Code, e.Msg, desc)
	}
	return fmt.Sprintf("bybit error %d: %s", e.Code, e.Msg)
}

// retryableCodes are rate-limit/transient classes worth retrying with backoff
// rather than surfacing immediately.
var retryableCodes = map[int]bool{
	10002: true, // request not authorized, sometimes transient clock skew
	10003: true, // too many requests
	10006: true, // system not responding
	10007: true, // response timeout from backend
	10016: true, // service not available
	10018: true, // exceed ip rate limit
	130150: true, // please try again later
}

// IsRetryable reports whether err is an APIError whose code is worth a
// backed-off retry rather than an immediate failure.
func IsRetryable(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	return retryableCodes[apiErr.Code]
}

// idempotentResetCodes are the Idempotent-ok taxonomy codes: venue responses
// meaning "not modified" or "already in the desired state", safe to swallow
// rather than treat as failures.
var idempotentResetCodes = map[int]bool{
	20001:  true, // order not exists
	30076:  true, // order not modified
	30032:  true, // pending replace
	30083:  true, // position mode unchanged
	130060: true, // autoAddMargin not changed
	130056: true, // isolated margin not changed
}

// same tp sl mode is Bybit's message-substring (not code) signal that the
// TP/SL mode switch is already in the requested state.
const sameTPSLModeSubstring = "same tp sl mode"

// IsIdempotentNoop reports whether err represents an exchange-side "already
// in the state you asked for" response, safe to swallow during the startup
// reset sequence.
func IsIdempotentNoop(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	if idempotentResetCodes[apiErr.Code] {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Msg), sameTPSLModeSubstring)
}

// errorCodeDescriptions maps Bybit V5 ret_code values to human-readable text,
// used only to enrich logged errors.
var errorCodeDescriptions = map[int]string{
	20001:  "order not exists",
	30032:  "pending replace",
	30076:  "order not modified",
	30083:  "position mode unchanged",
	10001:  "params error",
	10002:  "request not authorized",
	10003:  "too many requests, use websocket for live updates",
	10004:  "invalid sign",
	10005:  "permission denied for current apikey",
	10006:  "system not responding, request status unknown",
	10007:  "response timeout from backend server",
	10010:  "request ip mismatch",
	10016:  "service not available",
	10017:  "request path not found or method invalid",
	10018:  "exceed ip rate limit",
	33004:  "apikey already expired",
	35014:  "over order limit",
	130001: "not get position",
	130002: "wallet is nil",
	130003: "the position status is not normal",
	130004: "order number is out of permissible range",
	130005: "order price is out of permissible range",
	130006: "order qty is out of permissible range",
	130009: "number of contracts below min limit allowed",
	130010: "order not exists or too late to operate",
	130011: "operation not allowed, position is undergoing liquidation",
	130012: "operation not allowed, position is undergoing adl",
	130021: "order cost not available",
	130024: "cannot set tp/sl/ts for zero position",
	130037: "order already cancelled",
	130040: "position will be liquidated",
	130041: "available balance e8 less than 0",
	130049: "available balance not enough",
	130051: "cannot set leverage, due to risk limit",
	130052: "cannot set leverage, below the lower limit",
	130057: "position size is 0",
	130060: "autoAddMargin not changed",
	130061: "not change fee, invalid req",
	130125: "no change made for tp/sl price",
	130126: "no orders",
	130127: "take profit, stop loss and trailing stop loss are not modified",
	130145: "close order side is larger than position's leaving qty",
	130149: "order creation successful but sl/tp setting failed",
	130150: "please try again later",
	130155: "insufficient quantity required to set tp/sl",
	130156: "replacing active order price and qty simultaneously is not allowed",
	130157: "amendment failed, sl/tp price cannot be amended on partial fill",
	130158: "sl/tp price cannot be amended under full position mode",
	130159: "max sl/tp orders under partial mode is 20",
	132011: "current position size exceeds risk limit",
	134026: "risk limit has not been changed",
}
