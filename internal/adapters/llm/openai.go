package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// OpenAIClient speaks the OpenAI-compatible chat completions API.
// Works with OpenAI, Azure OpenAI, Together AI, local Ollama /v1, etc.
type OpenAIClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

var _ ports.ModelClient = (*OpenAIClient)(nil)

func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		client:  &http.Client{Timeout: 300 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// toDomain converts API usage; some compatible backends omit total_tokens,
// in which case it is derived.
func (u chatUsage) toDomain() domain.TokenUsage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return domain.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      total,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	payload := c.basePayload(req)

	resp, err := c.post(ctx, payload)
	if err != nil {
		return ports.Completion{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
		Usage chatUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ports.Completion{}, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return ports.Completion{}, fmt.Errorf("no choices in response")
	}

	return ports.Completion{
		Content: result.Choices[0].Message.Content,
		Usage:   result.Usage.toDomain(),
	}, nil
}

// CompleteStream consumes the SSE stream. stream_options.include_usage makes
// the final data event carry the token counts.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req ports.CompletionRequest, sink ports.ChunkSink) (ports.Completion, error) {
	payload := c.basePayload(req)
	payload["stream"] = true
	payload["stream_options"] = map[string]interface{}{"include_usage": true}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return ports.Completion{}, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	var usage domain.TokenUsage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *chatUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed keep-alives
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			content.WriteString(chunk.Choices[0].Delta.Content)
			if sink != nil {
				sink(chunk.Choices[0].Delta.Content)
			}
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.toDomain()
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ports.Completion{Content: content.String(), Usage: usage}, ctx.Err()
		}
		return ports.Completion{}, fmt.Errorf("read stream: %w", err)
	}

	return ports.Completion{Content: content.String(), Usage: usage}, nil
}

func (c *OpenAIClient) basePayload(req ports.CompletionRequest) map[string]interface{} {
	messages := []chatMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
	}
	for k, v := range req.Parameters {
		payload[k] = v
	}
	return payload
}

func (c *OpenAIClient) post(ctx context.Context, payload map[string]interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call API: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}
