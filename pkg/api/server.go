package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/switchboardhq/switchboard/internal/config"
	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/services"
	"github.com/switchboardhq/switchboard/internal/metrics"
)

// AgentRepository is the slice of storage the API needs directly. Everything
// conversation-shaped goes through the services instead.
type AgentRepository interface {
	CreateAgent(ctx context.Context, agent domain.Agent) error
	GetAgent(ctx context.Context, id domain.AgentID) (domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	UpdateAgent(ctx context.Context, agent domain.Agent) error
	DeleteAgent(ctx context.Context, id domain.AgentID) error
	ListExecutions(ctx context.Context, agentID domain.AgentID, limit int) ([]domain.ExecutionResult, error)
}

type Server struct {
	logger   *slog.Logger
	chat     *services.ChatService
	convs    *services.ConversationStore
	repo     AgentRepository
	settings *config.SettingsStore
	eventBus *services.EventBus
	tracer   *services.TraceCollector
	metrics  *metrics.Metrics
}

func NewServer(
	logger *slog.Logger,
	chat *services.ChatService,
	convs *services.ConversationStore,
	repo AgentRepository,
	settings *config.SettingsStore,
	eventBus *services.EventBus,
	tracer *services.TraceCollector,
	m *metrics.Metrics,
) *Server {
	return &Server{
		logger:   logger,
		chat:     chat,
		convs:    convs,
		repo:     repo,
		settings: settings,
		eventBus: eventBus,
		tracer:   tracer,
		metrics:  m,
	}
}

// Handler returns the http.Handler for the server. Routing is done by hand:
// the agent chat/stream/run routes and SSE endpoints don't fit a plain mux
// pattern, so one dispatcher owns the whole /v1 surface.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		// Agents
		case path == "/v1/agents" && r.Method == http.MethodGet:
			s.handleListAgents(w, r)
		case path == "/v1/agents" && r.Method == http.MethodPost:
			s.handleCreateAgent(w, r)
		case isAgentSubPath(path, "/chat/stream") && r.Method == http.MethodPost:
			s.handleChatStream(w, r)
		case isAgentSubPath(path, "/chat") && r.Method == http.MethodPost:
			s.handleChat(w, r)
		case isAgentSubPath(path, "/run") && r.Method == http.MethodPost:
			s.handleRun(w, r)
		case isAgentSubPath(path, "/executions") && r.Method == http.MethodGet:
			s.handleListExecutions(w, r)
		case isAgentPath(path) && r.Method == http.MethodGet:
			s.handleGetAgent(w, r)
		case isAgentPath(path) && r.Method == http.MethodPut:
			s.handleUpdateAgent(w, r)
		case isAgentPath(path) && r.Method == http.MethodDelete:
			s.handleDeleteAgent(w, r)

		// Conversations
		case path == "/v1/conversations" && r.Method == http.MethodGet:
			s.handleListConversations(w, r)
		case isConversationSubPath(path, "/events") && r.Method == http.MethodGet:
			s.handleConversationSSE(w, r)
		case isConversationSubPath(path, "/messages") && r.Method == http.MethodGet:
			s.handleListMessages(w, r)
		case isConversationSubPath(path, "/messages") && r.Method == http.MethodPost:
			s.handleOperatorMessage(w, r)
		case isConversationSubPath(path, "/takeover") && r.Method == http.MethodPost:
			s.handleTakeover(w, r)
		case isConversationSubPath(path, "/handback") && r.Method == http.MethodPost:
			s.handleHandback(w, r)
		case isConversationSubPath(path, "/end") && r.Method == http.MethodPost:
			s.handleEndConversation(w, r)
		case isConversationPath(path) && r.Method == http.MethodGet:
			s.handleGetConversation(w, r)

		// Observability
		case path == "/v1/traces" && r.Method == http.MethodGet:
			s.handleListTraces(w, r)
		case strings.HasPrefix(path, "/v1/traces/") && r.Method == http.MethodGet:
			s.handleGetTrace(w, r)
		case path == "/metrics" && r.Method == http.MethodGet:
			s.metrics.Handler().ServeHTTP(w, r)

		// Settings + contract
		case path == "/v1/settings" && r.Method == http.MethodGet:
			s.handleGetSettings(w, r)
		case path == "/v1/settings" && r.Method == http.MethodPut:
			s.handleUpdateSettings(w, r)
		case path == "/v1/openapi.json" && r.Method == http.MethodGet:
			s.handleOpenAPISpec(w, r)

		case path == "/healthz" && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	})
}

// isAgentPath matches /v1/agents/{id}
func isAgentPath(path string) bool {
	const prefix = "/v1/agents/"
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := strings.TrimPrefix(path, prefix)
	return rest != "" && !strings.Contains(rest, "/")
}

// isAgentSubPath matches /v1/agents/{id}<suffix>
func isAgentSubPath(path, suffix string) bool {
	const prefix = "/v1/agents/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return false
	}
	middle := path[len(prefix) : len(path)-len(suffix)]
	return middle != "" && !strings.Contains(middle, "/")
}

func isConversationPath(path string) bool {
	const prefix = "/v1/conversations/"
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := strings.TrimPrefix(path, prefix)
	return rest != "" && !strings.Contains(rest, "/")
}

func isConversationSubPath(path, suffix string) bool {
	const prefix = "/v1/conversations/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return false
	}
	middle := path[len(prefix) : len(path)-len(suffix)]
	return middle != "" && !strings.Contains(middle, "/")
}

// pathID extracts the {id} segment given the static prefix and an optional suffix.
func pathID(path, prefix, suffix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if suffix != "" {
		rest = strings.TrimSuffix(rest, suffix)
	}
	return rest
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
