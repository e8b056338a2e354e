package middleware

import (
	"net/http"

	"github.com/sentinelr/devicesync/internal/httputil"
)

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}
