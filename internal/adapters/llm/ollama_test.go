package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/core/ports"
)

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5:3b", req.Model)
		assert.Equal(t, "system prompt", req.System)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(ollamaResponse{
			Response:        "hello back",
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	out, err := client.Complete(context.Background(), ports.CompletionRequest{
		Model:        "qwen2.5:3b",
		SystemPrompt: "system prompt",
		Prompt:       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", out.Content)
	assert.Equal(t, 12, out.Usage.PromptTokens)
	assert.Equal(t, 5, out.Usage.CompletionTokens)
	assert.Equal(t, 17, out.Usage.TotalTokens)
}

func TestOllamaCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		enc := json.NewEncoder(w)
		enc.Encode(ollamaResponse{Response: "one "})
		enc.Encode(ollamaResponse{Response: "two "})
		enc.Encode(ollamaResponse{Response: "three", Done: true, PromptEvalCount: 9, EvalCount: 3})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	var chunks []string
	out, err := client.CompleteStream(context.Background(), ports.CompletionRequest{
		Model:  "qwen2.5:3b",
		Prompt: "count",
	}, func(chunk string) { chunks = append(chunks, chunk) })
	require.NoError(t, err)

	assert.Equal(t, "one two three", out.Content)
	assert.Equal(t, []string{"one ", "two ", "three"}, chunks)
	assert.Equal(t, 9, out.Usage.PromptTokens)
	assert.Equal(t, 3, out.Usage.CompletionTokens)
	assert.Equal(t, 12, out.Usage.TotalTokens)
}

func TestOllamaCompleteStream_NilSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Response: "text", Done: true})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	out, err := client.CompleteStream(context.Background(), ports.CompletionRequest{Prompt: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "text", out.Content)
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	_, err := client.Complete(context.Background(), ports.CompletionRequest{Model: "nope", Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaConnectionRefused(t *testing.T) {
	client := NewOllamaClient("http://127.0.0.1:1")
	_, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection failed")
}

func TestOllamaBaseURLNormalization(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"response":"ok","done":true}`)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL + "/")
	_, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "/api/generate", gotPath)
}
