package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes so API callers can tell auth failures from
// validation failures from retry-later failures.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindTransient  Kind = "transient"
	KindInternal   Kind = "internal"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	Kind       Kind   `json:"error_type"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same request later.
func (e *AppError) Retryable() bool {
	return e.Kind == KindTransient
}

// New creates a new AppError.
func New(code string, message string, httpStatus int, kind Kind) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Kind:       kind,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, kind Kind, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Kind:       kind,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// ---- Security & Authentication (SEC / AUTH) ----

func ErrUnauthorized() *AppError {
	return New("SEC_001", "Missing or invalid API key", http.StatusUnauthorized, KindAuth)
}

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized, KindAuth)
}

func ErrEmailExists() *AppError {
	return New("AUTH_002", "Email already registered", http.StatusConflict, KindValidation)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized, KindAuth)
}

func ErrMerchantSuspended() *AppError {
	return New("AUTH_004", "Merchant account is not active", http.StatusForbidden, KindAuth)
}

func ErrForbidden() *AppError {
	return New("AUTH_005", "Insufficient role for this operation", http.StatusForbidden, KindAuth)
}

// ---- Validation (VAL) ----

func ErrInvalidAddress() *AppError {
	return New("VAL_001", "Invalid wallet address", http.StatusBadRequest, KindValidation)
}

// Validation returns a VAL_002 validation error.
func Validation(message string) *AppError {
	return New("VAL_002", message, http.StatusBadRequest, KindValidation)
}

// ---- Payment Intent Logic (PAY) ----

func ErrInvalidAmount() *AppError {
	return New("PAY_002", "Invalid amount", http.StatusBadRequest, KindValidation)
}

func ErrDuplicateTransactionMatch() *AppError {
	return New("PAY_003", "Transaction already matched to another intent", http.StatusConflict, KindState)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound, KindValidation)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New("PAY_009", fmt.Sprintf("Transition %s -> %s is not allowed", from, to), http.StatusConflict, KindState)
}

func ErrMerchantNotActive() *AppError {
	return New("PAY_010", "Merchant cannot receive payments", http.StatusUnprocessableEntity, KindState)
}

func ErrIntentNotOpen() *AppError {
	return New("PAY_011", "Payment intent is not open for matching", http.StatusConflict, KindState)
}

func ErrIntentAlreadyMatched() *AppError {
	return New("PAY_012", "Payment intent already matched to a different transaction", http.StatusConflict, KindState)
}

// ---- Chain (CHAIN) ----

func ErrChainReorgInvalidation(err error) *AppError {
	return Wrap("CHAIN_001", "Matched transaction invalidated by chain reorganization", http.StatusConflict, KindState, err)
}

func ErrChainUnavailable(err error) *AppError {
	return Wrap("CHAIN_002", "Chain node unavailable", http.StatusServiceUnavailable, KindTransient, err)
}

// ---- Webhooks (WH) ----

func ErrDeliveryExhausted() *AppError {
	return New("WH_001", "Webhook delivery exhausted all attempts", http.StatusGone, KindState)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests, KindTransient)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, KindInternal, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, KindTransient, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, KindInternal, err)
}

func ErrConcurrentUpdate(err error) *AppError {
	return Wrap("SYS_004", "Concurrent update, retry later", http.StatusServiceUnavailable, KindTransient, err)
}

// ErrInvalidSecretFormat is fatal: the vault stops issuing secrets once it is returned.
func ErrInvalidSecretFormat(err error) *AppError {
	return Wrap("SYS_005", "Secret generation failed", http.StatusInternalServerError, KindInternal, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, KindInternal, err)
}
