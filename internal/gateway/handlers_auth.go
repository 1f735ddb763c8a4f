package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/huntrelay/huntrelay/internal/auth"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// credentialLookup is the narrow slice of an operator/analyst account
// store the Gateway's auth endpoints need. Expressed as an interface
// so a real deployment can back it with whatever user directory it
// already has; accounts are out of this module's persisted schema
// (spec.md §1 scopes user auth as an external collaborator).
type credentialLookup interface {
	PasswordHash(username string) (ids.AnalystID, string, error)
	SetPasswordHash(analyst ids.AnalystID, hash string) error
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

const accessTokenTTL = 15 * time.Minute

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apiError{status: http.StatusBadRequest, code: "bad_request", message: "invalid JSON body"})
		return
	}

	if s.accounts == nil {
		writeError(w, apiError{status: http.StatusServiceUnavailable, code: "auth_required", message: "no account directory configured"})
		return
	}
	sub, hash, err := s.accounts.PasswordHash(req.Username)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		writeError(w, apiError{status: http.StatusUnauthorized, code: "auth_failed", message: "invalid username or password"})
		return
	}

	access, err := s.issuer.IssueAccessToken(sub, accessTokenTTL)
	if err != nil {
		writeError(w, apiError{status: http.StatusInternalServerError, code: "internal_error", message: err.Error()})
		return
	}
	refresh, err := s.issuer.IssueRefreshToken(sub)
	if err != nil {
		writeError(w, apiError{status: http.StatusInternalServerError, code: "internal_error", message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access, RefreshToken: refresh})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apiError{status: http.StatusBadRequest, code: "bad_request", message: "invalid JSON body"})
		return
	}

	claims, err := s.issuer.VerifyRefresh(req.RefreshToken)
	if err != nil {
		writeError(w, apiError{status: http.StatusUnauthorized, code: "auth_failed", message: err.Error()})
		return
	}

	// Refresh token rotation on each use, per spec.md §6.
	access, err := s.issuer.IssueAccessToken(claims.Subject, accessTokenTTL)
	if err != nil {
		writeError(w, apiError{status: http.StatusInternalServerError, code: "internal_error", message: err.Error()})
		return
	}
	newRefresh, err := s.issuer.IssueRefreshToken(claims.Subject)
	if err != nil {
		writeError(w, apiError{status: http.StatusInternalServerError, code: "internal_error", message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access, RefreshToken: newRefresh})
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	analyst := analystFromContext(r.Context())
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apiError{status: http.StatusBadRequest, code: "bad_request", message: "invalid JSON body"})
		return
	}
	if s.accounts == nil {
		writeError(w, apiError{status: http.StatusServiceUnavailable, code: "auth_required", message: "no account directory configured"})
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, apiError{status: http.StatusInternalServerError, code: "internal_error", message: err.Error()})
		return
	}
	if err := s.accounts.SetPasswordHash(analyst, hash); err != nil {
		writeError(w, apiError{status: http.StatusInternalServerError, code: "internal_error", message: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
