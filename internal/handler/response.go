package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/httputil"
	"github.com/sentinelr/devicesync/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.ValidationError("Request body is required")
		}
		return apperrors.ValidationError("Invalid JSON body").WithCause(err)
	}
	return nil
}

// requireOperator returns the family the operator may act on.
func requireOperator(w http.ResponseWriter, r *http.Request) (*middleware.Operator, bool) {
	op := middleware.GetOperator(r.Context())
	if op == nil {
		writeError(w, apperrors.Unauthorized("Operator authentication required"))
		return nil, false
	}
	return op, true
}
