package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/huntmodule"
	"github.com/huntrelay/huntrelay/internal/ids"
)

func (s *Server) handleListModuleSpecs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.modules.List())
}

func (s *Server) handleGetModuleSpec(w http.ResponseWriter, r *http.Request) {
	id := ids.HuntModuleID(chi.URLParam(r, "moduleID"))
	m, err := s.modules.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if tag, err := huntmodule.ETag(m); err == nil {
		w.Header().Set("ETag", tag)
	}
	writeJSON(w, http.StatusOK, m)
}

type moduleSpecRequest struct {
	Spec string `json:"spec"` // raw hunt-module spec document, per spec.md §6
}

func (s *Server) handleCreateModuleSpec(w http.ResponseWriter, r *http.Request) {
	var req moduleSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.BadRequestf("invalid JSON body: %v", err))
		return
	}

	m, err := huntmodule.Parse(req.Spec)
	if err != nil {
		writeErr(w, apperr.BadRequestf("parsing hunt module spec: %v", err))
		return
	}
	if err := s.modules.Create(m); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateModuleSpec(w http.ResponseWriter, r *http.Request) {
	id := ids.HuntModuleID(chi.URLParam(r, "moduleID"))
	var req moduleSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.BadRequestf("invalid JSON body: %v", err))
		return
	}

	m, err := huntmodule.Parse(req.Spec)
	if err != nil {
		writeErr(w, apperr.BadRequestf("parsing hunt module spec: %v", err))
		return
	}
	if m.ID != id {
		writeErr(w, apperr.BadRequestf("module id in body (%s) does not match URL (%s)", m.ID, id))
		return
	}
	if err := s.modules.Update(m); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteModuleSpec(w http.ResponseWriter, r *http.Request) {
	id := ids.HuntModuleID(chi.URLParam(r, "moduleID"))
	if err := s.modules.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
