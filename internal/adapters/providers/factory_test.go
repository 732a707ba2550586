package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

func TestBuildDefaultsToLocal(t *testing.T) {
	client, err := Build(nil)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestBuildRemoteRequiresURL(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Providers.LLM.Mode = "remote"
	cfg.Providers.LLM.RemoteURL = ""

	_, err := Build(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote_url")
}

func TestBuildRejectsUnknownMode(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Providers.LLM.Mode = "carrier-pigeon"

	_, err := Build(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported llm provider mode")
}

func TestNormalizeOllamaBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", normalizeOllamaBaseURL("http://localhost:11434/"))
	assert.Equal(t, "http://localhost:11434", normalizeOllamaBaseURL("http://localhost:11434/v1"))
	assert.Equal(t, "http://host:1234", normalizeOllamaBaseURL("  http://host:1234  "))
}

type fixedUsageClient struct {
	usage domain.TokenUsage
}

func (f *fixedUsageClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	return ports.Completion{Content: "ok", Usage: f.usage}, nil
}

func (f *fixedUsageClient) CompleteStream(ctx context.Context, req ports.CompletionRequest, sink ports.ChunkSink) (ports.Completion, error) {
	return f.Complete(ctx, req)
}

func TestCostAccountingAppliesPricing(t *testing.T) {
	inner := &fixedUsageClient{usage: domain.TokenUsage{PromptTokens: 2000, CompletionTokens: 1000, TotalTokens: 3000}}
	cfg := domain.ProviderConfig{
		Pricing: map[string]domain.ModelPricing{
			"gpt-4o-mini": {PromptPer1K: 0.15, CompletionPer1K: 0.60},
		},
	}

	client := withCostAccounting(inner, cfg)
	comp, err := client.Complete(context.Background(), ports.CompletionRequest{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.InDelta(t, 0.90, comp.Usage.Cost, 1e-9)

	comp, err = client.Complete(context.Background(), ports.CompletionRequest{Model: "qwen2.5:3b"})
	require.NoError(t, err)
	assert.Zero(t, comp.Usage.Cost)
}

func TestCostAccountingBypassedWithoutPricing(t *testing.T) {
	inner := &fixedUsageClient{}
	client := withCostAccounting(inner, domain.ProviderConfig{})
	assert.Same(t, inner, client.(*fixedUsageClient))
}
