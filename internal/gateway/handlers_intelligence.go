package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	assetID := ids.AssetID(r.URL.Query().Get("asset_id"))
	sessionID := ids.SessionID(r.URL.Query().Get("session_id"))

	findings, err := s.intel.ListFindings(r.Context(), assetID, sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

func (s *Server) handleGetFinding(w http.ResponseWriter, r *http.Request) {
	id := ids.FindingID(chi.URLParam(r, "findingID"))
	f, err := s.intel.GetFinding(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFinding(w http.ResponseWriter, r *http.Request) {
	id := ids.FindingID(chi.URLParam(r, "findingID"))
	if err := s.intel.DeleteFinding(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSTIX returns the finding's opaque STIX bundle, if any was
// attached by the AI Pipeline's finding-extraction stage.
func (s *Server) handleGetSTIX(w http.ResponseWriter, r *http.Request) {
	id := ids.FindingID(chi.URLParam(r, "findingID"))
	f, err := s.intel.GetFinding(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if f.STIXBundle == "" {
		writeErr(w, apperr.NotFoundf("gateway: finding %s has no STIX bundle", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(f.STIXBundle))
}

type updateFindingStatusRequest struct {
	Status domain.FindingStatus `json:"status"`
}

func (s *Server) handleUpdateFindingStatus(w http.ResponseWriter, r *http.Request) {
	id := ids.FindingID(chi.URLParam(r, "findingID"))
	var req updateFindingStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.BadRequestf("invalid JSON body: %v", err))
		return
	}
	if err := s.intel.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	assetID := ids.AssetID(chi.URLParam(r, "assetID"))
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	events, err := s.intel.GetTimeline(r.Context(), assetID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleClearTimeline(w http.ResponseWriter, r *http.Request) {
	assetID := ids.AssetID(chi.URLParam(r, "assetID"))
	if err := s.intel.ClearTimeline(r.Context(), assetID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
