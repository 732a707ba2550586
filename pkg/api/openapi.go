package api

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openapiYAML []byte

// LoadContract parses and validates the embedded OpenAPI document. Called at
// startup so a malformed contract fails the boot, not the first request.
func LoadContract() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiYAML)
	if err != nil {
		return nil, fmt.Errorf("parse openapi contract: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi contract: %w", err)
	}
	return doc, nil
}

// handleOpenAPISpec serves the contract as JSON.
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	doc, err := LoadContract()
	if err != nil {
		s.logger.Error("failed to load openapi contract", "error", err)
		writeError(w, http.StatusInternalServerError, "contract unavailable")
		return
	}
	data, err := doc.MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "contract unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
