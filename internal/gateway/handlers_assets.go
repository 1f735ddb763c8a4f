package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	list, err := s.assets.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createAssetRequest struct {
	Hostname string       `json:"hostname"`
	IP       string       `json:"ip"`
	OS       domain.OSTag `json:"os"`
	SSHPort  int          `json:"ssh_port"`
	Username string       `json:"username"`
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.BadRequestf("invalid JSON body: %v", err))
		return
	}

	created, err := s.assets.Create(r.Context(), domain.Asset{
		Hostname: req.Hostname, IP: req.IP, OS: req.OS, SSHPort: req.SSHPort, Username: req.Username,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := ids.AssetID(chi.URLParam(r, "assetID"))
	a, err := s.assets.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handlePatchAsset(w http.ResponseWriter, r *http.Request) {
	id := ids.AssetID(chi.URLParam(r, "assetID"))
	existing, err := s.assets.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	var patch createAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeErr(w, apperr.BadRequestf("invalid JSON body: %v", err))
		return
	}
	if patch.Hostname != "" {
		existing.Hostname = patch.Hostname
	}
	if patch.IP != "" {
		existing.IP = patch.IP
	}
	if patch.OS != "" {
		existing.OS = patch.OS
	}
	if patch.SSHPort != 0 {
		existing.SSHPort = patch.SSHPort
	}
	if patch.Username != "" {
		existing.Username = patch.Username
	}

	if err := s.assets.Update(r.Context(), existing); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := ids.AssetID(chi.URLParam(r, "assetID"))
	if err := s.assets.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
