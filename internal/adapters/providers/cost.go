package providers

import (
	"context"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// costClient decorates a ModelClient with per-model cost accounting. Pricing
// comes from settings; unpriced models (local Ollama included) cost zero.
type costClient struct {
	inner   ports.ModelClient
	pricing domain.ProviderConfig
}

func withCostAccounting(inner ports.ModelClient, cfg domain.ProviderConfig) ports.ModelClient {
	if len(cfg.Pricing) == 0 {
		return inner
	}
	return &costClient{inner: inner, pricing: cfg}
}

func (c *costClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	comp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return comp, err
	}
	comp.Usage.Cost = c.pricing.CostOf(req.Model, comp.Usage.PromptTokens, comp.Usage.CompletionTokens)
	return comp, nil
}

func (c *costClient) CompleteStream(ctx context.Context, req ports.CompletionRequest, sink ports.ChunkSink) (ports.Completion, error) {
	comp, err := c.inner.CompleteStream(ctx, req, sink)
	if err != nil {
		return comp, err
	}
	comp.Usage.Cost = c.pricing.CostOf(req.Model, comp.Usage.PromptTokens, comp.Usage.CompletionTokens)
	return comp, nil
}
