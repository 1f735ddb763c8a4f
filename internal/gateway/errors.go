package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/huntrelay/huntrelay/internal/apperr"
)

// apiError is the Gateway's wire error shape.
type apiError struct {
	status  int
	code    string
	message string
}

func writeError(w http.ResponseWriter, e apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": e.code, "message": e.message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeErr translates a typed apperr.Error to an HTTP status per
// spec.md §7 ("the Gateway translates typed errors to HTTP status").
func writeErr(w http.ResponseWriter, err error) {
	category := apperr.CategoryOf(err)
	status, code := httpStatusFor(category)
	writeError(w, apiError{status: status, code: code, message: err.Error()})
}

func httpStatusFor(c apperr.Category) (int, string) {
	switch c {
	case apperr.BadRequest:
		return http.StatusBadRequest, "bad_request"
	case apperr.NotFound:
		return http.StatusNotFound, "not_found"
	case apperr.Conflict:
		return http.StatusConflict, "conflict"
	case apperr.IncompatibleOS:
		return http.StatusUnprocessableEntity, "incompatible_os"
	case apperr.Busy:
		return http.StatusConflict, "busy"
	case apperr.Locked:
		return http.StatusLocked, "locked"
	case apperr.AuthRequired:
		return http.StatusUnauthorized, "auth_required"
	case apperr.Forbidden:
		return http.StatusForbidden, "forbidden"
	case apperr.AIUnavailable, apperr.VaultUnavailable, apperr.Unreachable:
		return http.StatusBadGateway, "upstream_unavailable"
	case apperr.AIRateLimited:
		return http.StatusTooManyRequests, "ai_rate_limited"
	case apperr.AuthFailed:
		return http.StatusUnauthorized, "auth_failed"
	case apperr.HostKeyMismatch:
		return http.StatusConflict, "host_key_mismatch"
	case apperr.ChannelClosed, apperr.ExecTimeout:
		return http.StatusBadGateway, "ssh_error"
	case apperr.DBError:
		return http.StatusInternalServerError, "db_error"
	case apperr.Shutdown:
		return http.StatusServiceUnavailable, "shutdown"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
