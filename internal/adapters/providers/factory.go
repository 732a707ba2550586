package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/switchboardhq/switchboard/internal/adapters/llm"
	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// Build creates a model client from app configuration. It hides local/remote
// provider selection from callers.
func Build(config *domain.AppConfig) (ports.ModelClient, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}

	var client ports.ModelClient
	mode := strings.ToLower(strings.TrimSpace(config.Providers.LLM.Mode))
	switch mode {
	case "", "local":
		baseURL := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
		if baseURL == "" {
			baseURL = strings.TrimSpace(config.Providers.LLM.LocalURL)
		}
		client = llm.NewOllamaClient(normalizeOllamaBaseURL(baseURL))
	case "remote":
		if strings.TrimSpace(config.Providers.LLM.RemoteURL) == "" {
			return nil, fmt.Errorf("llm remote_url is required when mode=remote")
		}
		client = llm.NewOpenAIClient(
			strings.TrimSpace(config.Providers.LLM.RemoteURL),
			strings.TrimSpace(config.Providers.LLM.APIKey),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider mode: %s", config.Providers.LLM.Mode)
	}

	return withCostAccounting(client, config.Providers), nil
}

func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1")
	}
	return trimmed
}
