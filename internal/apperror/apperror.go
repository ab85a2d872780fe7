// Package apperror is the error taxonomy shared by the ledgers, the sale
// engine and the HTTP layer. Every domain failure is an *AppError with a
// stable machine-readable code; errors.Is matches on that code.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeCustomerNotFound    = "CUSTOMER_NOT_FOUND"
	CodeAlreadyCancelled    = "ALREADY_CANCELLED"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeStorage             = "STORAGE_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeIdempotencyMismatch = "IDEMPOTENCY_MISMATCH"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
)

type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError with the same code, so the
// package-level sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// Sentinels for errors.Is. Never return these directly.
var (
	ErrValidation          = &AppError{Code: CodeValidation}
	ErrInsufficientStock   = &AppError{Code: CodeInsufficientStock}
	ErrAccountNotFound     = &AppError{Code: CodeAccountNotFound}
	ErrCustomerNotFound    = &AppError{Code: CodeCustomerNotFound}
	ErrAlreadyCancelled    = &AppError{Code: CodeAlreadyCancelled}
	ErrConcurrencyConflict = &AppError{Code: CodeConcurrencyConflict}
	ErrStorage             = &AppError{Code: CodeStorage}
	ErrNotFound            = &AppError{Code: CodeNotFound}
	ErrIdempotencyMismatch = &AppError{Code: CodeIdempotencyMismatch}
)

func NewValidation(field string, message string) *AppError {
	e := &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

func NewInsufficientStock(productID string, requested int, available int) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    fmt.Sprintf("insufficient stock, %d available", available),
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		},
	}
}

func NewAccountNotFound(customerID string) *AppError {
	return &AppError{
		Code:       CodeAccountNotFound,
		Message:    "no conta fiada for this customer",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"customer_id": customerID},
	}
}

func NewCustomerNotFound(customerID string) *AppError {
	return &AppError{
		Code:       CodeCustomerNotFound,
		Message:    "customer not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"customer_id": customerID},
	}
}

func NewAlreadyCancelled(entity string, id string) *AppError {
	return &AppError{
		Code:       CodeAlreadyCancelled,
		Message:    fmt.Sprintf("%s already cancelled", entity),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

func NewConcurrencyConflict(entity string, cause error) *AppError {
	return &AppError{
		Code:       CodeConcurrencyConflict,
		Message:    "record was modified concurrently, please retry",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity},
		Err:        cause,
	}
}

// NewStorage hides the cause from clients; Err keeps it for logs.
func NewStorage(cause error) *AppError {
	return &AppError{
		Code:       CodeStorage,
		Message:    "storage failure, nothing was saved",
		HTTPStatus: http.StatusInternalServerError,
		Err:        cause,
	}
}

func NewNotFound(entity string, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyMismatch,
		Message:    "idempotency key was already used for a different sale",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

func NewForbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HTTPStatus returns the status for any error; non-AppErrors are 500.
func HTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsDomain reports whether err is an AppError other than a storage failure.
func IsDomain(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code != CodeStorage
}
