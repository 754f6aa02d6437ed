package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/markdave123-py/ragready/internal/apperr"
	middleware "github.com/markdave123-py/ragready/internal/api/middlewares"
	"github.com/markdave123-py/ragready/internal/logger"
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status. Internal failures are logged and their
// detail is not echoed to the caller.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Kind: string(apperr.KindOf(err)), Retryable: apperr.Retryable(err)}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("decode request", "invalid request body")
	}
	return nil
}

func tenantOf(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.TenantFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}
