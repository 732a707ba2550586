package services

import (
	"fmt"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// ToolsetBuilder turns an agent's validated ToolConfigs into an executable
// registry. Construction needs runtime collaborators (event bus for handoff
// announcements, the sandbox runtime) that the configs themselves cannot
// carry.
type ToolsetBuilder struct {
	bus     *EventBus
	sandbox ports.SandboxRunner
}

func NewToolsetBuilder(bus *EventBus, sandbox ports.SandboxRunner) *ToolsetBuilder {
	return &ToolsetBuilder{bus: bus, sandbox: sandbox}
}

// Build creates the registry for one agent. Configs were validated when the
// agent was defined, so shape errors here indicate a stored agent predating
// a config migration, reported, not panicked on.
func (b *ToolsetBuilder) Build(agent domain.Agent) (*domain.ToolRegistry, error) {
	registry := domain.NewToolRegistry()

	for _, tc := range agent.Tools {
		var tool *domain.Tool
		switch tc.Kind {
		case domain.ToolHandoff:
			cfg := domain.HandoffToolConfig{}
			if tc.Handoff != nil {
				cfg = *tc.Handoff
			}
			tool = NewHandoffTool(cfg, b.bus)
		case domain.ToolHTTP:
			if tc.HTTP == nil {
				return nil, fmt.Errorf("tool %s: missing http config", tc.Name)
			}
			tool = NewWebFetchTool(tc.Name, tc.Description, *tc.HTTP)
		case domain.ToolSandbox:
			if tc.Sandbox == nil {
				return nil, fmt.Errorf("tool %s: missing sandbox config", tc.Name)
			}
			if b.sandbox == nil {
				return nil, fmt.Errorf("tool %s: sandbox runtime not available", tc.Name)
			}
			tool = NewSandboxTool(tc.Name, tc.Description, *tc.Sandbox, b.sandbox)
		default:
			return nil, fmt.Errorf("tool %s: unknown kind %q", tc.Name, tc.Kind)
		}

		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", tc.Name, err)
		}
	}

	return registry, nil
}
