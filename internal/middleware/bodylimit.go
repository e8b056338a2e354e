package middleware

import (
	"net/http"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
)

const (
	// DefaultMaxBodySize fits the largest ping batch with room to spare.
	DefaultMaxBodySize = 1 << 20
)

type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.ContentLength > m.maxSize {
			writeError(w, apperrors.ValidationError("Request body too large").
				WithDetails(map[string]int64{"maxBytes": m.maxSize}))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}
