package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Server rejection
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingRequired    ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidPairingCode ErrorCode = "INVALID_PAIRING_CODE"

	// Authorization (host permissions)
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Session
	ErrCodePairingExpired ErrorCode = "PAIRING_EXPIRED"
	ErrCodePairingTimeout ErrorCode = "PAIRING_TIMEOUT"
	ErrCodeNotPaired      ErrorCode = "NOT_PAIRED"
	ErrCodeAlreadyPaired  ErrorCode = "ALREADY_PAIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Transport
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidPairingCode(reason string) *AppError {
	return New(ErrCodeInvalidPairingCode, fmt.Sprintf("Invalid pairing code: %s", reason))
}

// PermissionDenied reports a missing host permission. The remediation is
// surfaced in Details so the UI can offer to open system settings.
func PermissionDenied(permission string) *AppError {
	return New(ErrCodePermissionDenied, fmt.Sprintf("%s permission is not granted", permission)).
		WithDetails(map[string]string{
			"permission":  permission,
			"remediation": "open system settings and grant the permission",
		})
}

func PairingExpired() *AppError {
	return New(ErrCodePairingExpired, "Pairing code has expired")
}

func PairingTimeout() *AppError {
	return New(ErrCodePairingTimeout, "No confirmation received from the device")
}

func NotPaired() *AppError {
	return New(ErrCodeNotPaired, "Device is not paired")
}

func AlreadyPaired() *AppError {
	return New(ErrCodeAlreadyPaired, "Pairing code was already redeemed")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Transport(operation string, cause error) *AppError {
	return Wrap(ErrCodeTransport, fmt.Sprintf("Request failed: %s", operation), cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsUnauthorized reports whether the server rejected the caller's credentials.
func IsUnauthorized(err error) bool {
	switch GetCode(err) {
	case ErrCodeUnauthorized, ErrCodeInvalidToken:
		return true
	}
	return false
}
