package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

func TestHandoffTool_Success(t *testing.T) {
	bus := testBus(t)
	events, unsubscribe := bus.Subscribe("conv-1")
	defer unsubscribe()

	tool := NewHandoffTool(domain.HandoffToolConfig{NotifyQueue: "tier2"}, bus)

	result, err := tool.Execute(context.Background(),
		map[string]interface{}{"reason": "angry customer", "urgency": "high"},
		domain.ToolInvocation{ConversationID: "conv-1", AgentID: "agent-1"})
	require.NoError(t, err)

	out, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "queued", out["status"])
	assert.Equal(t, "tier2", out["queue"])

	evt := <-events
	assert.Equal(t, EventTypeHandoff, evt.Type)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &payload))
	assert.Equal(t, "conv-1", payload["conversation_id"])
	assert.Equal(t, "angry customer", payload["reason"])
	assert.Equal(t, "tier2", payload["queue"])
}

func TestHandoffTool_RequiresReason(t *testing.T) {
	tool := NewHandoffTool(domain.HandoffToolConfig{}, testBus(t))

	_, err := tool.Execute(context.Background(),
		map[string]interface{}{},
		domain.ToolInvocation{ConversationID: "conv-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason is required")
}

func TestHandoffTool_RequiresConversation(t *testing.T) {
	tool := NewHandoffTool(domain.HandoffToolConfig{}, testBus(t))

	_, err := tool.Execute(context.Background(),
		map[string]interface{}{"reason": "help"},
		domain.ToolInvocation{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a conversation")
}

func TestHandoffTool_NilBus(t *testing.T) {
	tool := NewHandoffTool(domain.HandoffToolConfig{}, nil)

	result, err := tool.Execute(context.Background(),
		map[string]interface{}{"reason": "help"},
		domain.ToolInvocation{ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.NotNil(t, result)
}
