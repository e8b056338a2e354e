package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sentinelr/devicesync/internal/audit"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
)

type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}

// RateLimitMiddleware applies a sliding window per key. KeyFunc returning ""
// lets the request through unmetered.
type RateLimitMiddleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	prefix  string
	keyFunc func(*http.Request) string
}

// ByIP keys on the client address; chi's RealIP runs first.
func ByIP(r *http.Request) string {
	return r.RemoteAddr
}

// ByDevice keys on the authenticated device.
func ByDevice(r *http.Request) string {
	if d := GetDevice(r.Context()); d != nil {
		return d.ID
	}
	return ""
}

func NewRateLimitMiddleware(limiter Limiter, limit int, window time.Duration, prefix string, keyFunc func(*http.Request) string) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
		keyFunc: keyFunc,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := m.keyFunc(r)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("%s:%s", m.prefix, id)
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			audit.Log(r.Context(), audit.Event{
				Type:    audit.EventRateLimitExceed,
				IP:      r.RemoteAddr,
				Details: map[string]interface{}{"key": key},
			})
			w.Header().Set("Retry-After", strconv.Itoa(secondsLeft))
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
