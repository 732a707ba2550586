package domain

import "errors"

// ErrSettingNotFound is returned when a settings key has never been saved.
var ErrSettingNotFound = errors.New("setting not found")

// LLMProviderConfig configures the LLM provider
type LLMProviderConfig struct {
	Mode         string `json:"mode"`          // "local" or "remote"
	LocalURL     string `json:"local_url"`     // "http://localhost:11434"
	RemoteURL    string `json:"remote_url"`    // "https://api.openai.com/v1"
	APIKey       string `json:"api_key"`       // Encrypted in storage
	DefaultModel string `json:"default_model"` // "qwen2.5:3b" or "gpt-4o-mini"
}

// ModelPricing is the per-1K-token price used for cost accounting.
// Local models run at zero cost.
type ModelPricing struct {
	PromptPer1K     float64 `json:"prompt_per_1k"`
	CompletionPer1K float64 `json:"completion_per_1k"`
}

// ProviderConfig holds configuration for the model backend
type ProviderConfig struct {
	LLM     LLMProviderConfig       `json:"llm"`
	Pricing map[string]ModelPricing `json:"pricing,omitempty"` // model ID -> pricing
}

// AppConfig is the main application configuration
type AppConfig struct {
	Providers ProviderConfig `json:"providers"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Providers: ProviderConfig{
			LLM: LLMProviderConfig{
				Mode:         "local",
				LocalURL:     "http://localhost:11434",
				DefaultModel: "qwen2.5:3b",
			},
		},
	}
}

// CostOf computes the dollar cost of a usage sample for a model. Unpriced
// models cost nothing.
func (c *ProviderConfig) CostOf(model string, promptTokens, completionTokens int) float64 {
	p, ok := c.Pricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*p.PromptPer1K + float64(completionTokens)/1000*p.CompletionPer1K
}
