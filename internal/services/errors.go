package services

import "errors"

// Service errors
var (
	// ErrUnauthorized covers missing, malformed, unknown and revoked API keys.
	ErrUnauthorized = errors.New("unauthorized")

	// Ledger errors
	ErrUnknownUser        = errors.New("unknown user")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAlreadyExists      = errors.New("already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrIdempotencyConflict means a prior entry exists with the same
	// idempotency key but a different payload. The caller must change the
	// request, not retry it.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

	// ErrVersionConflict is internal to the optimistic-commit loop: another
	// mutation won the version check. ErrContentionExceeded is surfaced when
	// the retry budget runs out; it is safe for the caller to retry blindly.
	ErrVersionConflict    = errors.New("account version conflict")
	ErrContentionExceeded = errors.New("account contention retry budget exceeded")

	// ErrDuplicateKey is internal: the (user_id, idempotency_key) unique
	// constraint fired inside a commit, meaning a replay raced past the
	// idempotency pre-check. The engine resolves it against the stored entry.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)
