// Package common defines shared constants and sentinel errors used across
// termvault components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Vault / encrypted-record errors.
	ErrAccessDenied  = errors.New("access denied: no unlocked key")
	ErrEncryptFailed = errors.New("field encryption failed")
	ErrDecryptFailed = errors.New("field decryption failed")

	// Durability errors. Returned by forced flushes only; debounced flushes
	// log the failure instead.
	ErrPersistenceFailed = errors.New("durable flush failed")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
