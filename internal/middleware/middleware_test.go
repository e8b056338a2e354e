package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/service"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

type mockDeviceAuth struct {
	authenticateFunc func(ctx context.Context, token, deviceID string) (*model.Device, error)
}

func (m *mockDeviceAuth) AuthenticateDevice(ctx context.Context, token, deviceID string) (*model.Device, error) {
	return m.authenticateFunc(ctx, token, deviceID)
}

type fakeLimiter struct {
	remaining map[string]int
}

func (f *fakeLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	if _, ok := f.remaining[key]; !ok {
		f.remaining[key] = limit
	}
	if f.remaining[key] == 0 {
		return false, time.Now().Add(window)
	}
	f.remaining[key]--
	return true, time.Now().Add(window)
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestOperatorAuthMiddleware(t *testing.T) {
	tokens := service.NewTokenService(testSecret)
	var seen *Operator
	handler := NewOperatorAuthMiddleware(tokens).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetOperator(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/devices", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token", func(t *testing.T) {
		token, err := tokens.IssueOperatorToken("user-1", "fam-1", 0)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "fam-1", seen.FamilyID)
		assert.Equal(t, "user-1", seen.UserID)
	})

	t.Run("query token for websocket handshakes", func(t *testing.T) {
		token, err := tokens.IssueOperatorToken("user-2", "fam-2", 0)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events?token="+token, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "fam-2", seen.FamilyID)
	})

	t.Run("device tokens are refused", func(t *testing.T) {
		token, err := tokens.IssueDeviceToken("dev-1", "fam-1")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDeviceAuthMiddleware(t *testing.T) {
	auth := &mockDeviceAuth{authenticateFunc: func(ctx context.Context, token, deviceID string) (*model.Device, error) {
		if token == "good" && deviceID == "dev-1" {
			return &model.Device{ID: "dev-1"}, nil
		}
		return nil, apperrors.Unauthorized("Device is no longer paired")
	}}

	var seen *model.Device
	handler := NewDeviceAuthMiddleware(auth).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetDevice(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid device", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/devices/ping", nil)
		req.Header.Set("Authorization", "Bearer good")
		req.Header.Set(DeviceIDHeader, "dev-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "dev-1", seen.ID)
	})

	t.Run("query tokens are not accepted for uploads", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/devices/ping?token=good", nil)
		req.Header.Set(DeviceIDHeader, "dev-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("revoked device", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/devices/ping", nil)
		req.Header.Set("Authorization", "Bearer stale")
		req.Header.Set(DeviceIDHeader, "dev-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), string(apperrors.ErrCodeUnauthorized))
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &fakeLimiter{remaining: map[string]int{}}
	handler := NewRateLimitMiddleware(limiter, 2, time.Minute, "redeem", ByIP).Handler(http.HandlerFunc(okHandler))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/pairing/redeem", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)

	rec := call("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("10.0.0.2").Code, "limits are per client")

	t.Run("requests without a key are not metered", func(t *testing.T) {
		unkeyed := NewRateLimitMiddleware(limiter, 0, time.Minute, "uploads", ByDevice).Handler(http.HandlerFunc(okHandler))
		rec := httptest.NewRecorder()
		unkeyed.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/devices/ping", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	handler := NewBodyLimitMiddleware(8).Handler(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/v1/devices/ping", nil)
	req.ContentLength = 64
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSecurityHeadersMiddleware(true).Handler(http.HandlerFunc(okHandler)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/locations/live", nil))

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestRequestLogger(t *testing.T) {
	handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
