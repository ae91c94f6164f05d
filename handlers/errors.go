// Package handlers exposes the tracking core over HTTP and the realtime
// channel.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/pkg/log"
)

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.Unauthorized:
		return http.StatusUnauthorized
	case errs.Forbidden:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the caller. Internal errors are logged with
// their cause and answered with a generic message.
func writeError(w http.ResponseWriter, logger log.Logger, err error, details map[string]interface{}) {
	kind := errs.KindOf(err)
	if kind == errs.Internal {
		logger.Error(err, "request failed")
		details = nil
	}
	writeJSON(w, statusFor(kind), ErrorResponse{
		Error:   errs.Message(err),
		Details: details,
	})
}
