package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/service"
)

type contextKey string

const (
	OperatorContextKey contextKey = "operator"
	DeviceContextKey   contextKey = "device"
)

// DeviceIDHeader accompanies the upload token on device requests.
const DeviceIDHeader = "X-Device-ID"

// Operator is the dashboard user behind a request.
type Operator struct {
	UserID   string
	FamilyID string
}

func GetOperator(ctx context.Context) *Operator {
	if op, ok := ctx.Value(OperatorContextKey).(*Operator); ok {
		return op
	}
	return nil
}

func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, OperatorContextKey, op)
}

func GetDevice(ctx context.Context) *model.Device {
	if d, ok := ctx.Value(DeviceContextKey).(*model.Device); ok {
		return d
	}
	return nil
}

func WithDevice(ctx context.Context, d *model.Device) context.Context {
	return context.WithValue(ctx, DeviceContextKey, d)
}

type TokenVerifier interface {
	Verify(token string, kind service.TokenKind) (*service.Claims, error)
}

type OperatorAuthMiddleware struct {
	tokens TokenVerifier
}

func NewOperatorAuthMiddleware(tokens TokenVerifier) *OperatorAuthMiddleware {
	return &OperatorAuthMiddleware{tokens: tokens}
}

func (m *OperatorAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, true)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		claims, err := m.tokens.Verify(token, service.TokenKindOperator)
		if err != nil {
			log.Warn().Err(err).Msg("operator auth: invalid token attempt")
			writeError(w, err)
			return
		}

		ctx := WithOperator(r.Context(), &Operator{UserID: claims.Subject, FamilyID: claims.FamilyID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type DeviceAuthenticator interface {
	AuthenticateDevice(ctx context.Context, token, deviceID string) (*model.Device, error)
}

// DeviceAuthMiddleware admits only devices that are still paired.
type DeviceAuthMiddleware struct {
	auth DeviceAuthenticator
}

func NewDeviceAuthMiddleware(auth DeviceAuthenticator) *DeviceAuthMiddleware {
	return &DeviceAuthMiddleware{auth: auth}
}

func (m *DeviceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, false)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing upload token"))
			return
		}

		device, err := m.auth.AuthenticateDevice(r.Context(), token, r.Header.Get(DeviceIDHeader))
		if err != nil {
			log.Warn().
				Err(err).
				Str("deviceId", r.Header.Get(DeviceIDHeader)).
				Msg("device auth rejected")
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), device)))
	})
}

// extractToken reads the bearer token. Browsers cannot set headers on a
// websocket handshake, so operator routes also accept ?token=.
func extractToken(r *http.Request, allowQuery bool) string {
	if allowQuery {
		if token := r.URL.Query().Get("token"); token != "" {
			return token
		}
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
