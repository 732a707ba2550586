package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

// NewHandoffTool creates the request_human_handoff tool. Its success is a
// deliberate early-termination signal for the reasoning loop: the runner
// recognizes the tool by name and stops immediately, and the orchestration
// layer fires the conversation transition. The tool itself only validates
// the request and announces it to operator consoles.
func NewHandoffTool(cfg domain.HandoffToolConfig, bus *EventBus) *domain.Tool {
	return &domain.Tool{
		Name:        domain.HandoffToolName,
		Description: "Transfer this conversation to a human operator. Use when the user explicitly asks for a person or the request is outside your abilities.",
		Parameters: domain.ToolParameters{
			Properties: map[string]string{
				"reason":          "string",
				"urgency":         "string",
				"context_summary": "string",
			},
			Required: []string{"reason"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}, inv domain.ToolInvocation) (interface{}, error) {
			reason, _ := params["reason"].(string)
			if reason == "" {
				return nil, fmt.Errorf("reason is required")
			}
			if inv.ConversationID == "" {
				return nil, fmt.Errorf("handoff requires a conversation")
			}

			if bus != nil {
				payload, _ := json.Marshal(map[string]interface{}{
					"conversation_id": inv.ConversationID,
					"agent_id":        inv.AgentID,
					"reason":          reason,
					"urgency":         params["urgency"],
					"queue":           cfg.NotifyQueue,
				})
				bus.Publish(Event{
					Key:       string(inv.ConversationID),
					Type:      EventTypeHandoff,
					Data:      string(payload),
					Timestamp: time.Now().UnixMilli(),
				})
			}

			return map[string]interface{}{
				"status": "queued",
				"queue":  cfg.NotifyQueue,
			}, nil
		},
	}
}
