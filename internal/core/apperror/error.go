// Package apperror is the error vocabulary of the ledger API. Every rejection
// a client can act on carries a stable code, an HTTP status and details.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeInternal = "INTERNAL_ERROR"

	CodeValidation          = "VALIDATION_ERROR"
	CodeOpeningEntryAccount = "OPENING_ENTRY_ACCOUNT"

	CodeNegativeStock = "NEGATIVE_STOCK"
	CodeStockFrozen   = "STOCK_FROZEN"
	CodeRepostFailed  = "REPOST_FAILED"

	CodeNotFound = "NOT_FOUND"

	CodeConflict              = "CONFLICT"
	CodeDuplicate             = "DUPLICATE_ENTRY"
	CodeDuplicateClosingRange = "DUPLICATE_CLOSING_RANGE"
	CodeLockTimeout           = "LOCK_TIMEOUT"
	CodeIdempotency           = "IDEMPOTENCY_CONFLICT"
)

var statusByCode = map[string]int{
	CodeInternal:              http.StatusInternalServerError,
	CodeValidation:            http.StatusBadRequest,
	CodeOpeningEntryAccount:   http.StatusBadRequest,
	CodeNegativeStock:         http.StatusUnprocessableEntity,
	CodeStockFrozen:           http.StatusUnprocessableEntity,
	CodeRepostFailed:          http.StatusUnprocessableEntity,
	CodeNotFound:              http.StatusNotFound,
	CodeConflict:              http.StatusConflict,
	CodeDuplicate:             http.StatusConflict,
	CodeDuplicateClosingRange: http.StatusConflict,
	CodeLockTimeout:           http.StatusConflict,
	CodeIdempotency:           http.StatusConflict,
}

// AppError is a coded error. Err is logged, never sent to clients.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"`
}

func newError(code, message string) *AppError {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail adds one detail and returns e.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records the error behind e.
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

func NewValidation(message string) *AppError { return newError(CodeValidation, message) }

func NewConflict(message string) *AppError { return newError(CodeConflict, message) }

// NewNotFound names the kind of record and the id that was looked up.
func NewNotFound(entity string, id any) *AppError {
	return newError(CodeNotFound, entity+" not found").
		WithDetail("entity", entity).
		WithDetail("id", id)
}

func NewDuplicate(entity, field, value string) *AppError {
	return newError(CodeDuplicate, fmt.Sprintf("%s with this %s already exists", entity, field)).
		WithDetail("entity", entity).
		WithDetail("field", field).
		WithDetail("value", value)
}

// NewInternal hides err behind a generic message.
func NewInternal(err error) *AppError {
	return newError(CodeInternal, "Internal server error").WithCause(err)
}

func NewIdempotencyConflict(key string) *AppError {
	return newError(CodeIdempotency, "A request with this idempotency key is still running").
		WithDetail("idempotency_key", key)
}

// NewIdempotencyMismatch reports a key reused for a different request.
func NewIdempotencyMismatch(key string) *AppError {
	return newError(CodeIdempotency, "Idempotency key was used for a different request").
		WithDetail("idempotency_key", key)
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HTTPStatus is the status err should be answered with.
func HTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether the first AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

func IsNegativeStock(err error) bool { return HasCode(err, CodeNegativeStock) }
