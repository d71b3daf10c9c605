package services

import (
	"fmt"
	"time"
)

// Protocol-level error taxonomy for calls to the mobile-money network.
// Only MpesaNetworkError and MpesaRateLimitError are transient.

// MpesaAuthError is an authentication failure that survived the single
// fresh-token retry.
type MpesaAuthError struct {
	Message string
}

func (e *MpesaAuthError) Error() string {
	return fmt.Sprintf("mpesa authentication failed: %s", e.Message)
}

// MpesaRequestError is a non-auth 4xx. Never retried.
type MpesaRequestError struct {
	StatusCode int
	Body       string
}

func (e *MpesaRequestError) Error() string {
	return fmt.Sprintf("mpesa rejected request with status %d: %s", e.StatusCode, e.Body)
}

// MpesaRateLimitError is returned once the retry budget is exhausted on
// 429 responses.
type MpesaRateLimitError struct {
	RetryAfter time.Duration
}

func (e *MpesaRateLimitError) Error() string {
	return fmt.Sprintf("mpesa rate limited (retry after %s)", e.RetryAfter)
}

// MpesaNetworkError wraps transport failures and 5xx responses after
// the retry budget is exhausted.
type MpesaNetworkError struct {
	Err error
}

func (e *MpesaNetworkError) Error() string {
	return fmt.Sprintf("mpesa network failure: %v", e.Err)
}

func (e *MpesaNetworkError) Unwrap() error {
	return e.Err
}

// MpesaRejectionError is an application-level failure carried inside a
// success-status response. The network's code is preserved verbatim.
type MpesaRejectionError struct {
	Code        string
	Description string
}

func (e *MpesaRejectionError) Error() string {
	return fmt.Sprintf("mpesa rejected operation: code=%s desc=%s", e.Code, e.Description)
}
