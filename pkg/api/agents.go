package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/services"
)

type agentRequest struct {
	OrganizationID string              `json:"organization_id"`
	ProjectID      string              `json:"project_id"`
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Kind           string              `json:"kind"`
	SystemPrompt   string              `json:"system_prompt"`
	Model          string              `json:"model"`
	MaxIterations  int                 `json:"max_iterations"`
	Tools          []domain.ToolConfig `json:"tools"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	agent := domain.Agent{
		ID:             domain.NewAgentID(),
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
		Name:           req.Name,
		Description:    req.Description,
		Kind:           domain.AgentKind(req.Kind),
		SystemPrompt:   req.SystemPrompt,
		Model:          req.Model,
		MaxIterations:  req.MaxIterations,
		Tools:          req.Tools,
	}
	if err := agent.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.repo.CreateAgent(r.Context(), agent); err != nil {
		s.logger.Error("failed to create agent", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.repo.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("failed to list agents", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents, "count": len(agents)})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := domain.AgentID(pathID(r.URL.Path, "/v1/agents/", ""))
	agent, err := s.repo.GetAgent(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("failed to get agent", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := domain.AgentID(pathID(r.URL.Path, "/v1/agents/", ""))

	var req agentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	agent := domain.Agent{
		ID:             id,
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
		Name:           req.Name,
		Description:    req.Description,
		Kind:           domain.AgentKind(req.Kind),
		SystemPrompt:   req.SystemPrompt,
		Model:          req.Model,
		MaxIterations:  req.MaxIterations,
		Tools:          req.Tools,
	}
	if err := agent.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.repo.UpdateAgent(r.Context(), agent); err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("failed to update agent", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := domain.AgentID(pathID(r.URL.Path, "/v1/agents/", ""))
	if err := s.repo.DeleteAgent(r.Context(), id); err != nil {
		s.logger.Error("failed to delete agent", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Message        string            `json:"message"`
	DynamicContext map[string]string `json:"dynamic_context,omitempty"`
}

type chatResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Execution      domain.ExecutionResult `json:"execution"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	agentID := domain.AgentID(pathID(r.URL.Path, "/v1/agents/", "/chat"))

	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, convID, err := s.chat.ExecuteChatbotAgent(r.Context(), services.ChatRequest{
		AgentID:        agentID,
		ConversationID: domain.ConversationID(req.ConversationID),
		UserID:         req.UserID,
		Message:        req.Message,
		DynamicContext: req.DynamicContext,
	})
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{ConversationID: string(convID), Execution: result})
}

// handleChatStream streams safe response chunks as SSE, then a final "result"
// event with the full execution.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	agentID := domain.AgentID(pathID(r.URL.Path, "/v1/agents/", "/chat/stream"))

	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := func(chunk string) {
		// JSON-wrapped so chunks containing newlines survive SSE framing
		writeSSEJSON(w, "chunk", map[string]string{"text": chunk})
		flusher.Flush()
	}

	result, convID, err := s.chat.ExecuteChatbotAgentStream(r.Context(), services.ChatRequest{
		AgentID:        agentID,
		ConversationID: domain.ConversationID(req.ConversationID),
		UserID:         req.UserID,
		Message:        req.Message,
		DynamicContext: req.DynamicContext,
	}, sink)
	if err != nil {
		writeSSE(w, "error", err.Error())
		flusher.Flush()
		return
	}

	payload := chatResponse{ConversationID: string(convID), Execution: result}
	writeSSEJSON(w, "result", payload)
	flusher.Flush()
}

type runRequest struct {
	Input          string            `json:"input"`
	DynamicContext map[string]string `json:"dynamic_context,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	agentID := domain.AgentID(pathID(r.URL.Path, "/v1/agents/", "/run"))

	var req runRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	result, err := s.chat.ExecuteTaskAgent(r.Context(), services.TaskRequest{
		AgentID:        agentID,
		Input:          req.Input,
		DynamicContext: req.DynamicContext,
	})
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	agentID := domain.AgentID(pathID(r.URL.Path, "/v1/agents/", "/executions"))
	executions, err := s.repo.ListExecutions(r.Context(), agentID, 50)
	if err != nil {
		s.logger.Error("failed to list executions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"executions": executions, "count": len(executions)})
}

func (s *Server) respondChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, domain.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, domain.ErrConversationEnded):
		writeError(w, http.StatusConflict, "conversation has ended")
	default:
		s.logger.Error("execution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "execution failed")
	}
}

func writeSSE(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeSSEJSON(w http.ResponseWriter, event string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeSSE(w, event, string(payload))
}
