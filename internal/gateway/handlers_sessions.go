package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/session"
)

type sessionView struct {
	ID        ids.SessionID       `json:"id"`
	AssetID   ids.AssetID         `json:"asset_id"`
	AnalystID ids.AnalystID       `json:"analyst_id"`
	Mode      domain.SessionMode  `json:"mode"`
	State     domain.SessionState `json:"state"`
}

func toSessionView(rt *session.Runtime) sessionView {
	return sessionView{ID: rt.ID(), AssetID: rt.AssetID(), AnalystID: rt.AnalystID(), Mode: rt.Mode(), State: rt.State()}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	out := make([]sessionView, 0, len(list))
	for _, rt := range list {
		out = append(out, toSessionView(rt))
	}
	writeJSON(w, http.StatusOK, out)
}

type createSessionRequest struct {
	AssetID ids.AssetID        `json:"asset_id"`
	Mode    domain.SessionMode `json:"mode"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.BadRequestf("invalid JSON body: %v", err))
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeInteractive
	}

	a, err := s.assets.Get(r.Context(), req.AssetID)
	if err != nil {
		writeErr(w, err)
		return
	}

	analyst := analystFromContext(r.Context())
	rt, err := s.sessions.CreateSession(r.Context(), a, analyst, req.Mode)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionView(rt))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := ids.SessionID(chi.URLParam(r, "sessionID"))
	rt, ok := s.sessions.Get(id)
	if !ok {
		writeErr(w, apperr.NotFoundf("gateway: session %s not found", id))
		return
	}
	s.sessions.Touch(id)
	writeJSON(w, http.StatusOK, toSessionView(rt))
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := ids.SessionID(chi.URLParam(r, "sessionID"))
	if err := s.sessions.Terminate(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLockSession(w http.ResponseWriter, r *http.Request) {
	id := ids.SessionID(chi.URLParam(r, "sessionID"))
	rt, ok := s.sessions.Get(id)
	if !ok {
		writeErr(w, apperr.NotFoundf("gateway: session %s not found", id))
		return
	}
	if err := rt.Lock(analystFromContext(r.Context())); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(rt))
}

func (s *Server) handleUnlockSession(w http.ResponseWriter, r *http.Request) {
	id := ids.SessionID(chi.URLParam(r, "sessionID"))
	rt, ok := s.sessions.Get(id)
	if !ok {
		writeErr(w, apperr.NotFoundf("gateway: session %s not found", id))
		return
	}
	if err := rt.Unlock(analystFromContext(r.Context())); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(rt))
}
