package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// OllamaClient talks to a local Ollama instance via /api/generate.
type OllamaClient struct {
	baseURL string
	client  *http.Client
}

var _ ports.ModelClient = (*OllamaClient)(nil)

func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

type ollamaRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete performs one blocking generation.
func (c *OllamaClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	resp, err := c.send(ctx, req, false)
	if err != nil {
		return ports.Completion{}, err
	}
	defer resp.Body.Close()

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.Completion{}, fmt.Errorf("decode ollama response: %w", err)
	}
	return ports.Completion{
		Content: out.Response,
		Usage: domain.TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// CompleteStream reads Ollama's NDJSON stream, delivering each chunk to the
// sink. The final line carries the token counts.
func (c *OllamaClient) CompleteStream(ctx context.Context, req ports.CompletionRequest, sink ports.ChunkSink) (ports.Completion, error) {
	resp, err := c.send(ctx, req, true)
	if err != nil {
		return ports.Completion{}, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	var usage domain.TokenUsage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return ports.Completion{}, fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Response != "" {
			content.WriteString(chunk.Response)
			if sink != nil {
				sink(chunk.Response)
			}
		}
		if chunk.Done {
			usage.PromptTokens = chunk.PromptEvalCount
			usage.CompletionTokens = chunk.EvalCount
			usage.TotalTokens = chunk.PromptEvalCount + chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		// ctx cancellation surfaces here as a read error
		if ctx.Err() != nil {
			return ports.Completion{Content: content.String(), Usage: usage}, ctx.Err()
		}
		return ports.Completion{}, fmt.Errorf("read ollama stream: %w", err)
	}

	return ports.Completion{Content: content.String(), Usage: usage}, nil
}

func (c *OllamaClient) send(ctx context.Context, req ports.CompletionRequest, stream bool) (*http.Response, error) {
	body := ollamaRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.SystemPrompt,
		Stream:  stream,
		Options: req.Parameters,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama connection failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return resp, nil
}
