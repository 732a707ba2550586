package ports

import (
	"context"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

// Repository abstracts the persistent storage (DuckDB)
type Repository interface {
	// Agents
	CreateAgent(ctx context.Context, agent domain.Agent) error
	GetAgent(ctx context.Context, id domain.AgentID) (domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	UpdateAgent(ctx context.Context, agent domain.Agent) error
	DeleteAgent(ctx context.Context, id domain.AgentID) error

	// Conversations
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	UpdateConversation(ctx context.Context, conv domain.Conversation) error
	DeleteConversation(ctx context.Context, id domain.ConversationID) error

	// Messages
	AddMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, convID domain.ConversationID, limit int) ([]domain.Message, error)

	// Executions (append-only audit of reasoning-loop runs)
	SaveExecution(ctx context.Context, result domain.ExecutionResult) error
	ListExecutions(ctx context.Context, agentID domain.AgentID, limit int) ([]domain.ExecutionResult, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// CompletionRequest is one model call.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Parameters   map[string]interface{} // provider-specific knobs (temperature, ...)
}

// Completion is the model's reply plus its token accounting.
type Completion struct {
	Content string
	Usage   domain.TokenUsage
}

// ChunkSink receives incremental completion text during streaming calls.
type ChunkSink func(chunk string)

// ModelClient abstracts the LLM backend. CompleteStream delivers raw chunks
// to the sink as they arrive and still returns the fully-assembled content;
// retry policy, if any, lives behind this interface, never in the loop.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	CompleteStream(ctx context.Context, req CompletionRequest, sink ChunkSink) (Completion, error)
}

// Summarizer condenses a long conversation. The core only triggers it; the
// summarization model call itself is an external collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, convID domain.ConversationID, messages []domain.Message) (string, error)
}

// SandboxSpec describes one sandboxed code execution.
type SandboxSpec struct {
	Image       string
	Command     []string
	Stdin       string
	Env         map[string]string
	MemoryBytes int64
}

// SandboxOutput is the result of a sandboxed run.
type SandboxOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SandboxRunner abstracts the container runtime used by sandbox-kind tools.
type SandboxRunner interface {
	Run(ctx context.Context, spec SandboxSpec) (SandboxOutput, error)
}
