// Package errors provides the structured error responses used by the admin
// surface. User-facing validation outcomes never travel as errors; they are
// results encoded by the codec. This package covers everything else:
// malformed admin requests, missing records, insufficient balance,
// configuration faults, and store failures.
package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is a structured admin API error.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates an APIError.
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// NewWithDetails creates an APIError carrying extra detail.
func NewWithDetails(statusCode int, errorCode, message string, details any) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message, Details: details}
}

// Predefined errors for common admin scenarios.
var (
	ErrInvalidRequest      = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrValidationFailed    = New(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed")
	ErrNotFound            = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrInsufficientBalance = New(http.StatusConflict, "INSUFFICIENT_BALANCE", "Account balance cannot cover the cost")
	ErrCodeAlreadyUsed     = New(http.StatusConflict, "REFERRAL_ALREADY_USED", "Referral code has already been redeemed")
	ErrInternalServer      = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// InvalidRequestWithError wraps a bind/decode failure.
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// NotFoundError names the missing resource.
func NotFoundError(resource string) *APIError {
	return NewWithDetails(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource), resource)
}

// IssuanceDisabledError surfaces the operator's defense-mode message.
func IssuanceDisabledError(message string) *APIError {
	return New(http.StatusForbidden, "ISSUANCE_DISABLED", message)
}

// EncryptionNotConfiguredError is the configuration fault for encrypted
// mode. Distinct from user-facing outcomes and not retryable.
func EncryptionNotConfiguredError(err error) *APIError {
	return NewWithDetails(http.StatusInternalServerError, "ENCRYPTION_NOT_CONFIGURED",
		"Server-side encryption is not configured", err.Error())
}

// InternalError wraps a store or infrastructure failure.
func InternalError(err error) *APIError {
	return NewWithDetails(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR",
		"Internal server error", err.Error())
}
