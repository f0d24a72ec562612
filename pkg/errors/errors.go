package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("resource conflict")
	ErrInternal           = errors.New("internal server error")
	ErrTemporaryFailure   = errors.New("temporary failure")
	ErrPermanentFailure   = errors.New("permanent failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// Order lifecycle error types
var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidToken        = errors.New("invalid confirmation token")
	ErrAlreadyConfirmed    = errors.New("order already confirmed")
	ErrConfirmationExpired = errors.New("confirmation expired")
)

// AppError represents a structured application error with context
type AppError struct {
	Err        error
	StatusCode int
	Message    string
	Retryable  bool
	Context    map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Context:    make(map[string]interface{}),
	}
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return errors.Is(err, ErrTemporaryFailure) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// StatusCode returns the HTTP status carried by err, or 500 for anything
// that is not an AppError.
func StatusCode(err error) int {
	var appErr *AppError

	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// AsAppError returns the AppError in err's chain, if any
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound, false)
}

// NewInvalidInputError creates an invalid input error
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrInvalidInput, message, http.StatusBadRequest, false)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrUnauthorized, message, http.StatusUnauthorized, false)
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrForbidden, message, http.StatusForbidden, false)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict, false)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError, true)
}

// NewTemporaryError creates a temporary error
func NewTemporaryError(message string) *AppError {
	return NewAppError(ErrTemporaryFailure, message, http.StatusServiceUnavailable, true)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrTimeout, message, http.StatusGatewayTimeout, true)
}

// NewRateLimitedError creates a rate limited error
func NewRateLimitedError(message string) *AppError {
	return NewAppError(ErrRateLimited, message, http.StatusTooManyRequests, true)
}

// NewInvalidOrderError creates an error for a malformed order request
func NewInvalidOrderError(message string) *AppError {
	return NewAppError(ErrInvalidOrder, message, http.StatusBadRequest, false)
}

// NewInvalidStatusError creates an error for an unknown order status
func NewInvalidStatusError(status string) *AppError {
	return NewAppError(ErrInvalidStatus, fmt.Sprintf("Invalid order status: %s", status), http.StatusBadRequest, false).
		WithContext("status", status)
}

// NewProductNotFoundError creates an error naming the missing line item
func NewProductNotFoundError(item string) *AppError {
	return NewAppError(ErrProductNotFound, fmt.Sprintf("Product %s not found", item), http.StatusNotFound, false).
		WithContext("item", item)
}

// NewInsufficientStockError creates an error reporting the quantity still available
func NewInsufficientStockError(item string, available int) *AppError {
	msg := fmt.Sprintf("Insufficient stock for %s. Available: %d", item, available)
	return NewAppError(ErrInsufficientStock, msg, http.StatusBadRequest, false).
		WithContext("item", item).
		WithContext("available", available)
}

// NewOrderNotFoundError creates an order not found error
func NewOrderNotFoundError(orderID string) *AppError {
	return NewAppError(ErrOrderNotFound, "Order not found", http.StatusNotFound, false).
		WithContext("order_id", orderID)
}

// NewInvalidTokenError creates the error returned for unknown or unusable confirmation links
func NewInvalidTokenError() *AppError {
	return NewAppError(ErrInvalidToken, "Invalid or expired confirmation link", http.StatusBadRequest, false)
}

// NewAlreadyConfirmedError creates the error returned when a token is redeemed twice
func NewAlreadyConfirmedError() *AppError {
	return NewAppError(ErrAlreadyConfirmed, "Order already confirmed", http.StatusConflict, false)
}

// NewConfirmationExpiredError creates the error returned when the confirmation window has passed
func NewConfirmationExpiredError() *AppError {
	return NewAppError(ErrConfirmationExpired, "Confirmation link expired. The order has been cancelled", http.StatusGone, false)
}
