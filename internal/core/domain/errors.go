package domain

import "errors"

// Storage-level sentinels. Services translate them into apperror codes.
var (
	ErrVersionConflict = errors.New("version conflict")
	ErrTxHashClaimed   = errors.New("transaction hash already claimed")
	ErrEmailTaken      = errors.New("email already registered")
	ErrIdempotencyKey  = errors.New("idempotency key already recorded")
)
