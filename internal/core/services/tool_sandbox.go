package services

import (
	"context"
	"fmt"
	"time"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

const defaultSandboxTimeout = 30 * time.Second

// NewSandboxTool creates a sandbox-kind tool that runs code inside a
// disposable container. The image and resource limits come from the agent's
// validated tool config; the runtime itself sits behind the SandboxRunner
// port.
func NewSandboxTool(name, description string, cfg domain.SandboxToolConfig, runner ports.SandboxRunner) *domain.Tool {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSandboxTimeout
	}
	if description == "" {
		description = "Runs a short script inside an isolated container and returns its output."
	}

	return &domain.Tool{
		Name:        name,
		Description: description,
		Parameters: domain.ToolParameters{
			Properties: map[string]string{"code": "string"},
			Required:   []string{"code"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}, _ domain.ToolInvocation) (interface{}, error) {
			code, ok := params["code"].(string)
			if !ok || code == "" {
				return nil, fmt.Errorf("code is required")
			}

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			out, err := runner.Run(runCtx, ports.SandboxSpec{
				Image:       cfg.Image,
				Command:     []string{"/bin/sh", "-c", code},
				MemoryBytes: cfg.MemoryBytes,
			})
			if err != nil {
				return nil, fmt.Errorf("sandbox run: %w", err)
			}

			result := map[string]interface{}{
				"stdout":    out.Stdout,
				"exit_code": out.ExitCode,
			}
			if out.Stderr != "" {
				result["stderr"] = out.Stderr
			}
			if out.ExitCode != 0 {
				return nil, fmt.Errorf("command exited with code %d: %s", out.ExitCode, out.Stderr)
			}
			return result, nil
		},
	}
}
