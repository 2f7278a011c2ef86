package ports

import "errors"

// Standard application-level errors. Adapters wrap underlying infrastructure
// errors with these so the trade cycle can classify retry vs. skip vs.
// abandon vs. fatal without inspecting adapter internals.
var (
	// General
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Data sufficiency: skip the current tick, never fatal.
	ErrInsufficientHistory = errors.New("not enough candles held in cache")
	ErrInsufficientWindow  = errors.New("series shorter than indicator window")
	ErrStaleData           = errors.New("cached candles are stale")

	// Exchange infrastructure: transient, retried with backoff.
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")

	// Business rejections: abandon the current entry attempt only.
	ErrInsufficientFunds = errors.New("insufficient funds for operation")
	ErrBelowMinNotional  = errors.New("order notional below exchange minimum")
	ErrBelowMinQuantity  = errors.New("order quantity below exchange minimum")
	ErrOrderRejected     = errors.New("order rejected by the exchange")

	// Invariant violations: fatal for the offending symbol's worker.
	ErrInvariantViolation = errors.New("trade invariant violated")
	ErrTokenNotHeld       = errors.New("admission token released but not held")

	// Database
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
