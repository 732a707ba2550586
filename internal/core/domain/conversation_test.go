package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversation(state HandlerState) *Conversation {
	return &Conversation{
		ID:           NewConversationID(),
		AgentID:      "agent-1",
		UserID:       "user-1",
		HandlerState: state,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func TestTransition_HappyPath(t *testing.T) {
	c := newConversation(StateAgentControlled)

	require.NoError(t, c.Transition(EventHandoffRequested))
	assert.Equal(t, StateHandoffRequested, c.HandlerState)

	require.NoError(t, c.Transition(EventHumanTakeover))
	assert.Equal(t, StateHumanControlled, c.HandlerState)

	require.NoError(t, c.Transition(EventHandback))
	assert.Equal(t, StateAgentControlled, c.HandlerState)

	require.NoError(t, c.Transition(EventEnd))
	assert.Equal(t, StateEnded, c.HandlerState)
}

func TestTransition_InvalidMoves(t *testing.T) {
	cases := []struct {
		name  string
		state HandlerState
		event ConversationEvent
	}{
		{"takeover without handoff", StateAgentControlled, EventHumanTakeover},
		{"handback while agent controlled", StateAgentControlled, EventHandback},
		{"double handoff", StateHandoffRequested, EventHandoffRequested},
		{"handback before takeover", StateHandoffRequested, EventHandback},
		{"handoff under human control", StateHumanControlled, EventHandoffRequested},
		{"takeover under human control", StateHumanControlled, EventHumanTakeover},
		{"unknown event", StateAgentControlled, ConversationEvent("bogus")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newConversation(tc.state)
			err := c.Transition(tc.event)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tc.state, c.HandlerState, "failed transition must not mutate state")
		})
	}
}

func TestTransition_EndedIsTerminal(t *testing.T) {
	for _, event := range []ConversationEvent{
		EventHandoffRequested, EventHumanTakeover, EventHandback, EventEnd,
	} {
		c := newConversation(StateEnded)
		err := c.Transition(event)
		assert.ErrorIs(t, err, ErrInvalidTransition, "event %s", event)
	}
}

func TestTransition_EndFromAnyLiveState(t *testing.T) {
	for _, state := range []HandlerState{
		StateAgentControlled, StateHandoffRequested, StateHumanControlled,
	} {
		c := newConversation(state)
		require.NoError(t, c.Transition(EventEnd), "from %s", state)
		assert.Equal(t, StateEnded, c.HandlerState)
	}
}

func TestTransition_HandbackClearsHandoffInfo(t *testing.T) {
	c := newConversation(StateHumanControlled)
	c.HandoffInfo = &HandoffInfo{Reason: "billing dispute", RequestedAt: time.Now()}

	require.NoError(t, c.Transition(EventHandback))
	assert.Nil(t, c.HandoffInfo)
}

func TestTransition_TouchesUpdatedAt(t *testing.T) {
	c := newConversation(StateAgentControlled)
	stale := time.Now().Add(-time.Hour)
	c.UpdatedAt = stale

	require.NoError(t, c.Transition(EventHandoffRequested))
	assert.True(t, c.UpdatedAt.After(stale))
}

func TestAgentMayRun(t *testing.T) {
	assert.True(t, newConversation(StateAgentControlled).AgentMayRun())
	assert.False(t, newConversation(StateHandoffRequested).AgentMayRun())
	assert.False(t, newConversation(StateHumanControlled).AgentMayRun())
	assert.False(t, newConversation(StateEnded).AgentMayRun())
}

func TestNewConversationID_Shape(t *testing.T) {
	id := NewConversationID()
	assert.Len(t, string(id), len("conv-")+12)
	assert.Contains(t, string(id), "conv-")
	assert.NotEqual(t, id, NewConversationID())
}
