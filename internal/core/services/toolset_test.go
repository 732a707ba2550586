package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// stubSandbox records the last spec it ran.
type stubSandbox struct {
	last   ports.SandboxSpec
	output ports.SandboxOutput
	err    error
}

func (s *stubSandbox) Run(ctx context.Context, spec ports.SandboxSpec) (ports.SandboxOutput, error) {
	s.last = spec
	return s.output, s.err
}

func testBus(t *testing.T) *EventBus {
	t.Helper()
	return NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestToolsetBuild_AllKinds(t *testing.T) {
	builder := NewToolsetBuilder(testBus(t), &stubSandbox{})
	agent := domain.Agent{
		ID:   "agent-1",
		Name: "Full",
		Kind: domain.AgentChatbot,
		Tools: []domain.ToolConfig{
			{Name: domain.HandoffToolName, Kind: domain.ToolHandoff, Handoff: &domain.HandoffToolConfig{}},
			{Name: "web_fetch", Kind: domain.ToolHTTP, HTTP: &domain.HTTPToolConfig{}},
			{Name: "run_python", Kind: domain.ToolSandbox, Sandbox: &domain.SandboxToolConfig{Image: "python:3.12-slim"}},
		},
	}

	registry, err := builder.Build(agent)
	require.NoError(t, err)
	require.NotNil(t, registry)

	for _, name := range []string{domain.HandoffToolName, "web_fetch", "run_python"} {
		_, ok := registry.GetTool(name)
		assert.True(t, ok, "tool %s must be registered", name)
	}
}

func TestToolsetBuild_EmptyAgent(t *testing.T) {
	builder := NewToolsetBuilder(testBus(t), nil)
	registry, err := builder.Build(domain.Agent{ID: "agent-plain", Name: "Plain", Kind: domain.AgentChatbot})
	require.NoError(t, err)
	assert.Empty(t, registry.ListTools())
}

func TestToolsetBuild_SandboxWithoutRuntime(t *testing.T) {
	builder := NewToolsetBuilder(testBus(t), nil)
	agent := domain.Agent{
		ID:   "agent-1",
		Name: "Coder",
		Kind: domain.AgentChatbot,
		Tools: []domain.ToolConfig{
			{Name: "run_python", Kind: domain.ToolSandbox, Sandbox: &domain.SandboxToolConfig{Image: "python:3.12-slim"}},
		},
	}

	_, err := builder.Build(agent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox runtime not available")
}

func TestToolsetBuild_MissingVariant(t *testing.T) {
	builder := NewToolsetBuilder(testBus(t), nil)
	agent := domain.Agent{
		ID:    "agent-1",
		Name:  "Broken",
		Kind:  domain.AgentChatbot,
		Tools: []domain.ToolConfig{{Name: "web_fetch", Kind: domain.ToolHTTP}},
	}

	_, err := builder.Build(agent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing http config")
}

func TestToolsetBuild_UnknownKind(t *testing.T) {
	builder := NewToolsetBuilder(testBus(t), nil)
	agent := domain.Agent{
		ID:    "agent-1",
		Name:  "Odd",
		Kind:  domain.AgentChatbot,
		Tools: []domain.ToolConfig{{Name: "mystery", Kind: "grpc"}},
	}

	_, err := builder.Build(agent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}
