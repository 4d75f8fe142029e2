package gateway

import (
	"fmt"
	"net/http"
	"time"
)

// AuthError means the credentials (or the request signature derived from
// them, including its timestamp) were rejected. Further calls cannot
// succeed until the credentials are corrected, so it is never retried.
type AuthError struct {
	Code int
	Msg  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (code %d): %s", e.Code, e.Msg)
}

// RateLimitError means the exchange refused the request for exceeding its
// rate limits. RetryAfter carries the server's back-off hint.
type RateLimitError struct {
	Code       int
	Msg        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (code %d, retry after %s): %s", e.Code, e.RetryAfter, e.Msg)
}

// TransientError covers network failures, timeouts and 5xx responses.
// Retried with exponential backoff.
type TransientError struct {
	Msg string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *TransientError) Unwrap() error { return e.Err }

// ProtocolError means the response did not match the expected API contract.
// Retrying a malformed response cannot succeed, so it is surfaced
// immediately.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Binance error codes that map onto the taxonomy.
const (
	codeTooManyRequests  = -1003
	codeTimestampOutside = -1021
	codeBadSignature     = -1022
	codeMissingAPIKey    = -2014
	codeRejectedAPIKey   = -2015
)

// classifyResponse maps an HTTP status plus exchange error body onto a
// typed error. retryAfter comes from the Retry-After header when present.
func classifyResponse(status, code int, msg string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || code == codeTooManyRequests:
		// 418 is Binance's auto-ban response for clients that ignore 429s.
		return &RateLimitError{Code: code, Msg: msg, RetryAfter: retryAfter}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Code: code, Msg: msg}
	case code == codeTimestampOutside || code == codeBadSignature ||
		code == codeMissingAPIKey || code == codeRejectedAPIKey:
		return &AuthError{Code: code, Msg: msg}
	case status >= 500:
		return &TransientError{Msg: fmt.Sprintf("server error %d: %s", status, msg)}
	default:
		return &ProtocolError{Msg: fmt.Sprintf("unexpected response %d (code %d): %s", status, code, msg)}
	}
}
