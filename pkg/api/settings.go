package api

import (
	"net/http"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

// handleGetSettings returns the current configuration with secrets masked.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}

// handleUpdateSettings validates and persists a configuration update.
// Masked or empty API keys keep the stored value.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update domain.AppConfig
	if err := readJSON(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.settings.UpdateConfig(r.Context(), &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}
