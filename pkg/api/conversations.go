package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.convs.ListConversations(r.Context())
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs, "count": len(convs)})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(pathID(r.URL.Path, "/v1/conversations/", ""))
	conv, err := s.convs.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("failed to get conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(pathID(r.URL.Path, "/v1/conversations/", "/messages"))
	msgs, err := s.convs.GetMessages(r.Context(), id, 0)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
}

type operatorRequest struct {
	OperatorID string `json:"operator_id"`
	Message    string `json:"message,omitempty"`
}

func (s *Server) handleOperatorMessage(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(pathID(r.URL.Path, "/v1/conversations/", "/messages"))

	var req operatorRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := s.chat.OperatorMessage(r.Context(), id, req.OperatorID, req.Message); err != nil {
		s.respondTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "sent"})
}

func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(pathID(r.URL.Path, "/v1/conversations/", "/takeover"))

	var req operatorRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.chat.Takeover(r.Context(), id, req.OperatorID); err != nil {
		s.respondTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(domain.StateHumanControlled)})
}

func (s *Server) handleHandback(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(pathID(r.URL.Path, "/v1/conversations/", "/handback"))

	var req operatorRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.chat.Handback(r.Context(), id, req.OperatorID); err != nil {
		s.respondTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(domain.StateAgentControlled)})
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(pathID(r.URL.Path, "/v1/conversations/", "/end"))
	if err := s.chat.End(r.Context(), id); err != nil {
		s.respondTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(domain.StateEnded)})
}

func (s *Server) respondTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("conversation operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

// handleConversationSSE streams live conversation events (chunks, status,
// handoff announcements) over SSE, keyed by conversation ID on the bus.
func (s *Server) handleConversationSSE(w http.ResponseWriter, r *http.Request) {
	id := pathID(r.URL.Path, "/v1/conversations/", "/events")

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

	ch, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
