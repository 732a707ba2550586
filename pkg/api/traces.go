package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

// handleListTraces returns recent traces.
// GET /v1/traces?limit=50
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := fmt.Sscanf(l, "%d", &limit); n == 1 && err == nil && limit > 0 {
			if limit > 500 {
				limit = 500
			}
		}
	}

	traces := s.tracer.ListTraces(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traces": traces,
		"count":  len(traces),
	})
}

// handleGetTrace returns a single trace with all spans.
// GET /v1/traces/{id}
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/traces/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, http.StatusBadRequest, "invalid trace id")
		return
	}

	trace, err := s.tracer.GetTrace(domain.TraceID(path))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trace)
}
