// Package common defines shared constants and sentinel errors used across
// client and server layers of syncbox. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Validation errors (malformed payloads, unknown entity types).
	ErrValidation = errors.New("validation error")

	// Connectivity / offline interception errors.
	ErrConnectivityUnavailable     = errors.New("connectivity unavailable")
	ErrUnsupportedOfflineOperation = errors.New("unsupported offline operation")

	// Delivery errors.
	ErrRemoteApply         = errors.New("remote apply failure")
	ErrMaxAttemptsExceeded = errors.New("max delivery attempts exceeded")

	// Ledger errors. Malformed records are dropped server-side; this value
	// exists so the drop can at least be logged with a stable cause.
	ErrLedgerWriteRejected = errors.New("ledger write rejected")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
