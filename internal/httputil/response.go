package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	WriteJSON(w, StatusFromCode(appErr.Code), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeMissingRequired,
		apperrors.ErrCodeInvalidPairingCode:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeUnauthorized,
		apperrors.ErrCodeInvalidToken,
		apperrors.ErrCodeNotPaired:
		return http.StatusUnauthorized

	// 403 Forbidden
	case apperrors.ErrCodeForbidden,
		apperrors.ErrCodePermissionDenied:
		return http.StatusForbidden

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case apperrors.ErrCodeConflict,
		apperrors.ErrCodeAlreadyPaired:
		return http.StatusConflict

	// 410 Gone
	case apperrors.ErrCodePairingExpired:
		return http.StatusGone

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 502 Bad Gateway
	case apperrors.ErrCodeTransport:
		return http.StatusBadGateway

	// 504 Gateway Timeout
	case apperrors.ErrCodePairingTimeout:
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// codeFromStatus is the fallback when an error body carries no code.
func codeFromStatus(status int) apperrors.ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.ErrCodeUnauthorized
	case status == http.StatusForbidden:
		return apperrors.ErrCodeForbidden
	case status == http.StatusNotFound:
		return apperrors.ErrCodeNotFound
	case status == http.StatusConflict:
		return apperrors.ErrCodeConflict
	case status == http.StatusGone:
		return apperrors.ErrCodePairingExpired
	case status == http.StatusTooManyRequests:
		return apperrors.ErrCodeRateLimitExceeded
	case status >= 400 && status < 500:
		return apperrors.ErrCodeValidation
	case status >= 500:
		return apperrors.ErrCodeTransport
	default:
		return apperrors.ErrCodeInternal
	}
}

// ReadError turns a non-2xx response into an AppError. The body is consumed
// but not closed.
func ReadError(resp *http.Response) *apperrors.AppError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != "" {
		msg := payload.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return apperrors.New(payload.Code, msg).WithDetails(payload.Details)
	}

	return apperrors.New(codeFromStatus(resp.StatusCode),
		fmt.Sprintf("unexpected status %d", resp.StatusCode))
}
