package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// AgentID uniquely identifies an operator-defined agent
type AgentID string

// AgentKind distinguishes conversational agents from one-shot task executors.
type AgentKind string

const (
	// AgentChatbot converses inside a conversation and is subject to the
	// handler-state gate (handoff to a human operator is possible).
	AgentChatbot AgentKind = "chatbot"
	// AgentTask runs a single bounded execution with no conversation gate.
	AgentTask AgentKind = "task"
)

// DefaultMaxIterations bounds the reasoning loop when an agent does not
// configure its own budget.
const DefaultMaxIterations = 5

// Agent is an operator-defined LLM-backed worker: a chatbot that talks to
// end users, or a task executor. Tool configuration is validated once at
// definition time, not per invocation.
type Agent struct {
	ID             AgentID      `json:"id"`
	OrganizationID string       `json:"organization_id"`
	ProjectID      string       `json:"project_id"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Kind           AgentKind    `json:"kind"`
	SystemPrompt   string       `json:"system_prompt"`
	Model          string       `json:"model"` // empty = provider default
	MaxIterations  int          `json:"max_iterations"`
	Tools          []ToolConfig `json:"tools"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

var (
	ErrAgentNotFound   = errors.New("agent not found")
	ErrInvalidAgent    = errors.New("invalid agent definition")
	ErrInvalidToolConf = errors.New("invalid tool configuration")
)

// IterationBudget returns the effective loop bound for this agent.
func (a *Agent) IterationBudget() int {
	if a.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return a.MaxIterations
}

// Validate checks the agent definition, including every tool config.
// Called when an operator creates or updates the agent.
func (a *Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if a.Kind != AgentChatbot && a.Kind != AgentTask {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAgent, a.Kind)
	}
	if a.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must be >= 0", ErrInvalidAgent)
	}
	seen := make(map[string]struct{}, len(a.Tools))
	for i := range a.Tools {
		if err := a.Tools[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[a.Tools[i].Name]; dup {
			return fmt.Errorf("%w: duplicate tool %q", ErrInvalidToolConf, a.Tools[i].Name)
		}
		seen[a.Tools[i].Name] = struct{}{}
	}
	return nil
}

// ToolKind selects which configuration variant of a ToolConfig is active.
type ToolKind string

const (
	// ToolHandoff is the built-in request_human_handoff tool.
	ToolHandoff ToolKind = "handoff"
	// ToolHTTP fetches a URL (web_fetch and friends).
	ToolHTTP ToolKind = "http"
	// ToolSandbox runs code inside a disposable container.
	ToolSandbox ToolKind = "sandbox"
)

// HandoffToolName is the tool whose successful invocation transfers the
// conversation to a human operator and terminates the loop immediately.
const HandoffToolName = "request_human_handoff"

// HTTPToolConfig configures an http-kind tool.
type HTTPToolConfig struct {
	MaxBodyBytes int64         `json:"max_body_bytes,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	AllowedHosts []string      `json:"allowed_hosts,omitempty"` // empty = any
}

// SandboxToolConfig configures a sandbox-kind tool.
type SandboxToolConfig struct {
	Image       string        `json:"image"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	MemoryBytes int64         `json:"memory_bytes,omitempty"`
}

// HandoffToolConfig configures the handoff tool.
type HandoffToolConfig struct {
	// NotifyQueue names the operator queue handoffs are routed to.
	NotifyQueue string `json:"notify_queue,omitempty"`
}

// ToolConfig is an explicit per-tool configuration variant keyed by tool
// identity. Exactly one of the variant pointers matching Kind must be set;
// Validate enforces this once at agent-configuration time so tool executors
// never re-check shapes per invocation.
type ToolConfig struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Kind        ToolKind           `json:"kind"`
	HTTP        *HTTPToolConfig    `json:"http,omitempty"`
	Sandbox     *SandboxToolConfig `json:"sandbox,omitempty"`
	Handoff     *HandoffToolConfig `json:"handoff,omitempty"`
}

// Validate checks that the config names a tool and carries exactly the
// variant its Kind requires.
func (tc *ToolConfig) Validate() error {
	if tc.Name == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidToolConf)
	}
	switch tc.Kind {
	case ToolHandoff:
		if tc.Name != HandoffToolName {
			return fmt.Errorf("%w: handoff kind requires name %q, got %q", ErrInvalidToolConf, HandoffToolName, tc.Name)
		}
		if tc.HTTP != nil || tc.Sandbox != nil {
			return fmt.Errorf("%w: %s carries a non-handoff variant", ErrInvalidToolConf, tc.Name)
		}
	case ToolHTTP:
		if tc.HTTP == nil {
			return fmt.Errorf("%w: %s is missing its http variant", ErrInvalidToolConf, tc.Name)
		}
		if tc.Sandbox != nil || tc.Handoff != nil {
			return fmt.Errorf("%w: %s carries an extra variant", ErrInvalidToolConf, tc.Name)
		}
	case ToolSandbox:
		if tc.Sandbox == nil {
			return fmt.Errorf("%w: %s is missing its sandbox variant", ErrInvalidToolConf, tc.Name)
		}
		if tc.Sandbox.Image == "" {
			return fmt.Errorf("%w: %s requires a sandbox image", ErrInvalidToolConf, tc.Name)
		}
		if tc.HTTP != nil || tc.Handoff != nil {
			return fmt.Errorf("%w: %s carries an extra variant", ErrInvalidToolConf, tc.Name)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q for tool %q", ErrInvalidToolConf, tc.Kind, tc.Name)
	}
	return nil
}

// NewAgentID generates a compact random agent ID (agent-<12 hex>)
func NewAgentID() AgentID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return AgentID("agent-" + hex.EncodeToString(b))
}

// BuiltinAgents returns the default agents seeded on first run.
func BuiltinAgents() []Agent {
	now := time.Now()
	return []Agent{
		{
			ID:          "agent-support",
			Name:        "Support Assistant",
			Description: "General customer support chatbot with human escalation.",
			Kind:        AgentChatbot,
			SystemPrompt: `You are a helpful customer support assistant.
Answer clearly and concisely. When a request is outside your abilities or
the user explicitly asks for a person, request a human handoff.`,
			MaxIterations: DefaultMaxIterations,
			Tools: []ToolConfig{
				{
					Name:        HandoffToolName,
					Description: "Transfer this conversation to a human operator.",
					Kind:        ToolHandoff,
					Handoff:     &HandoffToolConfig{},
				},
				{
					Name:        "web_fetch",
					Description: "Fetch the contents of a public web page.",
					Kind:        ToolHTTP,
					HTTP:        &HTTPToolConfig{},
				},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
