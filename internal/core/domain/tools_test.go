package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		Parameters: ToolParameters{
			Properties: map[string]string{"text": "string"},
			Required:   []string{"text"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}, inv ToolInvocation) (interface{}, error) {
			return params["text"], nil
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	result := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"}, ToolInvocation{})
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Result)
	assert.GreaterOrEqual(t, result.ExecutionTime.Nanoseconds(), int64(0))
}

func TestRegistryExecute_ErrorBecomesFailure(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "broken",
		Execute: func(ctx context.Context, params map[string]interface{}, inv ToolInvocation) (interface{}, error) {
			return nil, errors.New("backend exploded")
		},
	}))

	result := r.Execute(context.Background(), "broken", nil, ToolInvocation{})
	assert.False(t, result.Success)
	assert.Equal(t, "backend exploded", result.Error)
}

func TestRegistryExecute_UnknownToolFails(t *testing.T) {
	r := NewToolRegistry()
	result := r.Execute(context.Background(), "ghost", nil, ToolInvocation{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "tool not found")
}

func TestRegistryFuzzyMatch(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(echoTool("web_fetch")))
	require.NoError(t, r.Register(echoTool("request_human_handoff")))

	// Word-order and suffix hallucinations resolve to the real tool.
	result := r.Execute(context.Background(), "fetch_web", map[string]interface{}{"text": "x"}, ToolInvocation{})
	assert.True(t, result.Success, "fetch_web should match web_fetch")

	result = r.Execute(context.Background(), "human_handoff", map[string]interface{}{"text": "x"}, ToolInvocation{})
	assert.True(t, result.Success, "human_handoff should match request_human_handoff")

	// No shared words: fail rather than guess.
	result = r.Execute(context.Background(), "delete_database", nil, ToolInvocation{})
	assert.False(t, result.Success)
}

func TestRegistryResolve(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(echoTool("web_fetch")))
	require.NoError(t, r.Register(echoTool("request_human_handoff")))

	name, ok := r.Resolve("web_fetch")
	assert.True(t, ok)
	assert.Equal(t, "web_fetch", name)

	// Callers branching on tool identity see the registered name, whatever
	// the model spelled.
	name, ok = r.Resolve("human_handoff")
	assert.True(t, ok)
	assert.Equal(t, "request_human_handoff", name)

	name, ok = r.Resolve("delete_database")
	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := NewToolRegistry()
	assert.Error(t, r.Register(&Tool{}))
}

func TestFormatToolsForPrompt_SortedAndStable(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(echoTool("zeta")))
	require.NoError(t, r.Register(echoTool("alpha")))

	first := r.FormatToolsForPrompt()
	assert.Less(t, indexOfSub(first, "alpha"), indexOfSub(first, "zeta"))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, r.FormatToolsForPrompt())
	}
}

func indexOfSub(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
