package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

func (s *Server) handleListHuntModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.modules.List())
}

type startHuntRequest struct {
	SessionID ids.SessionID     `json:"session_id"`
	ModuleID  ids.HuntModuleID  `json:"module_id"`
	RunAI     bool              `json:"run_ai"`
}

// handleStartHunt runs the hunt in the background: scheduler.Run
// blocks for the duration of every step (and, if run_ai, the AI
// Pipeline), so the HTTP response returns immediately with the hunt's
// PENDING record and clients follow progress over the WebSocket's
// hunt_step_started/finished/hunt_status events (spec.md §4.1, §6).
func (s *Server) handleStartHunt(w http.ResponseWriter, r *http.Request) {
	var req startHuntRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.BadRequestf("invalid JSON body: %v", err))
		return
	}

	rt, ok := s.sessions.Get(req.SessionID)
	if !ok {
		writeErr(w, apperr.NotFoundf("gateway: session %s not found", req.SessionID))
		return
	}
	module, err := s.modules.Get(req.ModuleID)
	if err != nil {
		writeErr(w, err)
		return
	}
	a, err := s.assets.Get(r.Context(), rt.AssetID())
	if err != nil {
		writeErr(w, err)
		return
	}

	huntID := ids.NewHuntID()
	analyst := analystFromContext(r.Context())

	pending := domain.Hunt{ID: huntID, SessionID: req.SessionID, ModuleID: req.ModuleID, RunAI: req.RunAI, Status: domain.HuntPending}
	s.huntsMu.Lock()
	s.hunts[huntID] = pending
	s.huntSession[huntID] = req.SessionID
	s.huntsMu.Unlock()

	go func() {
		result, err := s.scheduler.Run(context.Background(), huntID, req.SessionID, rt, analyst, module, a, req.RunAI)
		if err != nil {
			s.logger.Error("hunt failed", "hunt_id", huntID, "error", err)
		}
		s.huntsMu.Lock()
		s.hunts[huntID] = result
		s.huntsMu.Unlock()
	}()

	writeJSON(w, http.StatusAccepted, pending)
}

func (s *Server) handleGetHunt(w http.ResponseWriter, r *http.Request) {
	id := ids.HuntID(chi.URLParam(r, "huntID"))
	s.huntsMu.Lock()
	h, ok := s.hunts[id]
	s.huntsMu.Unlock()
	if !ok {
		writeErr(w, apperr.NotFoundf("gateway: hunt %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleCancelHunt(w http.ResponseWriter, r *http.Request) {
	id := ids.HuntID(chi.URLParam(r, "huntID"))
	s.huntsMu.Lock()
	sessionID, ok := s.huntSession[id]
	s.huntsMu.Unlock()
	if !ok {
		writeErr(w, apperr.NotFoundf("gateway: hunt %s not found", id))
		return
	}
	s.scheduler.Cancel(id, sessionID)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSessionReports(w http.ResponseWriter, r *http.Request) {
	sessionID := ids.SessionID(chi.URLParam(r, "sessionID"))
	rt, ok := s.sessions.Get(sessionID)
	if !ok {
		writeErr(w, apperr.NotFoundf("gateway: session %s not found", sessionID))
		return
	}
	reports, err := s.intel.ListAIReports(r.Context(), rt.AssetID())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleAssetReports(w http.ResponseWriter, r *http.Request) {
	assetID := ids.AssetID(chi.URLParam(r, "assetID"))
	reports, err := s.intel.ListAIReports(r.Context(), assetID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		rendered := make([]string, 0, len(reports))
		for _, md := range reports {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(md), &buf); err != nil {
				writeErr(w, apperr.New(apperr.Invariant, "gateway: rendering AI report: %v", err))
				return
			}
			rendered = append(rendered, buf.String())
		}
		writeJSON(w, http.StatusOK, rendered)
		return
	}

	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	// AI reports are append-only evidence records; spec.md §6 lists
	// delete_report at the hunts resource without further detail, and
	// no retention policy is specified. Until one is, this endpoint is
	// a documented no-op rather than a silent data-loss footgun.
	w.WriteHeader(http.StatusNotImplemented)
}
