package domain

import (
	"errors"
	"fmt"
	"time"

	"crypto/rand"
	"encoding/hex"
)

// ConversationID uniquely identifies a conversation
type ConversationID string

// MessageID uniquely identifies a message within a conversation
type MessageID string

// MessageRole defines who authored a message
type MessageRole string

const (
	RoleUser     MessageRole = "user"
	RoleAgent    MessageRole = "agent"
	RoleOperator MessageRole = "operator" // human operator after takeover
	RoleSystem   MessageRole = "system"
)

// HandlerState says who currently owns a conversation: the automated agent,
// a human operator, or nobody (ended).
type HandlerState string

const (
	// StateAgentControlled is the initial state; the reasoning loop may run.
	StateAgentControlled HandlerState = "agent"
	// StateHandoffRequested means the agent asked for a human and is waiting
	// for an operator to take over. The loop must not run.
	StateHandoffRequested HandlerState = "handoff_requested"
	// StateHumanControlled means a human operator owns the conversation.
	StateHumanControlled HandlerState = "human"
	// StateEnded is terminal.
	StateEnded HandlerState = "ended"
)

// ConversationEvent drives handler-state transitions.
type ConversationEvent string

const (
	EventHandoffRequested ConversationEvent = "handoff_requested" // fired by the loop's handoff branch
	EventHumanTakeover    ConversationEvent = "human_takeover"    // operator accepts the handoff
	EventHandback         ConversationEvent = "handback"          // operator returns control to the agent
	EventEnd              ConversationEvent = "end"               // conversation closure
)

// HandoffInfo captures why and how urgently the agent requested a human.
type HandoffInfo struct {
	Reason         string    `json:"reason"`
	Urgency        string    `json:"urgency,omitempty"`
	ContextSummary string    `json:"context_summary,omitempty"`
	RequestedAt    time.Time `json:"requested_at"`
}

// Conversation is a multi-turn session between an end user and an agent
// (and, after a handoff, a human operator). It is mutated only through
// message appends and Transition, never by the reasoning loop directly.
type Conversation struct {
	ID           ConversationID `json:"id"`
	AgentID      AgentID        `json:"agent_id"`
	UserID       string         `json:"user_id"`
	Title        string         `json:"title"`
	HandlerState HandlerState   `json:"handler_state"`
	HandoffInfo  *HandoffInfo   `json:"handoff_info,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Message represents a single turn in a conversation
type Message struct {
	ID             MessageID              `json:"id"`
	ConversationID ConversationID         `json:"conversation_id"`
	Role           MessageRole            `json:"role"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidTransition    = errors.New("invalid handler state transition")
	ErrConversationEnded    = errors.New("conversation has ended")
)

// Transition applies a handler-state event, returning ErrInvalidTransition
// when the event is not legal from the current state. EventEnd is accepted
// from every non-terminal state.
func (c *Conversation) Transition(event ConversationEvent) error {
	if c.HandlerState == StateEnded {
		return fmt.Errorf("%w: conversation %s ended", ErrInvalidTransition, c.ID)
	}

	switch event {
	case EventEnd:
		c.HandlerState = StateEnded
	case EventHandoffRequested:
		if c.HandlerState != StateAgentControlled {
			return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, c.HandlerState)
		}
		c.HandlerState = StateHandoffRequested
	case EventHumanTakeover:
		if c.HandlerState != StateHandoffRequested {
			return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, c.HandlerState)
		}
		c.HandlerState = StateHumanControlled
	case EventHandback:
		if c.HandlerState != StateHumanControlled {
			return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, c.HandlerState)
		}
		c.HandlerState = StateAgentControlled
		c.HandoffInfo = nil
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}

	c.UpdatedAt = time.Now()
	return nil
}

// AgentMayRun reports whether an inbound user message should invoke the
// reasoning loop. Only agent-controlled conversations are eligible.
func (c *Conversation) AgentMayRun() bool {
	return c.HandlerState == StateAgentControlled
}

// NewConversationID generates a compact random conversation ID (conv-<12 hex>)
func NewConversationID() ConversationID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return ConversationID("conv-" + hex.EncodeToString(b))
}

// NewMessageID generates a compact random message ID (msg-<12 hex>)
func NewMessageID() MessageID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return MessageID("msg-" + hex.EncodeToString(b))
}
