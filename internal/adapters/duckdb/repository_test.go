package duckdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository("")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleAgent(id domain.AgentID) domain.Agent {
	return domain.Agent{
		ID:            id,
		Name:          "Support Bot",
		Description:   "answers support questions",
		Kind:          domain.AgentChatbot,
		SystemPrompt:  "You help customers.",
		Model:         "qwen2.5:3b",
		MaxIterations: 5,
		Tools: []domain.ToolConfig{
			{Name: domain.HandoffToolName, Kind: domain.ToolHandoff, Handoff: &domain.HandoffToolConfig{NotifyQueue: "tier1"}},
			{Name: "web_fetch", Kind: domain.ToolHTTP, HTTP: &domain.HTTPToolConfig{AllowedHosts: []string{"example.com"}}},
		},
	}
}

func TestAgentCRUD(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	agent := sampleAgent("agent-1")
	require.NoError(t, repo.CreateAgent(ctx, agent))

	got, err := repo.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, agent.Name, got.Name)
	assert.Equal(t, agent.Kind, got.Kind)
	assert.Equal(t, agent.MaxIterations, got.MaxIterations)
	require.Len(t, got.Tools, 2)
	assert.Equal(t, domain.HandoffToolName, got.Tools[0].Name)
	require.NotNil(t, got.Tools[0].Handoff)
	assert.Equal(t, "tier1", got.Tools[0].Handoff.NotifyQueue)
	require.NotNil(t, got.Tools[1].HTTP)
	assert.Equal(t, []string{"example.com"}, got.Tools[1].HTTP.AllowedHosts)

	agent.Name = "Renamed"
	agent.Tools = agent.Tools[:1]
	require.NoError(t, repo.UpdateAgent(ctx, agent))
	got, err = repo.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Len(t, got.Tools, 1)

	agents, err := repo.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	require.NoError(t, repo.DeleteAgent(ctx, "agent-1"))
	_, err = repo.GetAgent(ctx, "agent-1")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestAgentNotFound(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	_, err := repo.GetAgent(ctx, "agent-missing")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	err = repo.UpdateAgent(ctx, sampleAgent("agent-missing"))
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestConversationCRUD(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	conv := domain.Conversation{
		ID:           "conv-1",
		AgentID:      "agent-1",
		UserID:       "user-1",
		Title:        "billing question",
		HandlerState: domain.StateAgentControlled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.CreateConversation(ctx, conv))

	got, err := repo.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conv.Title, got.Title)
	assert.Equal(t, domain.StateAgentControlled, got.HandlerState)
	assert.Nil(t, got.HandoffInfo)

	// Handoff metadata survives the round trip.
	got.HandlerState = domain.StateHandoffRequested
	got.HandoffInfo = &domain.HandoffInfo{Reason: "refund", Urgency: "high", RequestedAt: now}
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.UpdateConversation(ctx, got))

	got, err = repo.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateHandoffRequested, got.HandlerState)
	require.NotNil(t, got.HandoffInfo)
	assert.Equal(t, "refund", got.HandoffInfo.Reason)
	assert.Equal(t, "high", got.HandoffInfo.Urgency)

	require.NoError(t, repo.DeleteConversation(ctx, "conv-1"))
	_, err = repo.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestConversationNotFound(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	_, err := repo.GetConversation(ctx, "conv-missing")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	err = repo.UpdateConversation(ctx, domain.Conversation{ID: "conv-missing", UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestMessages(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	conv := domain.Conversation{
		ID: "conv-1", AgentID: "agent-1", HandlerState: domain.StateAgentControlled,
		CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, repo.CreateConversation(ctx, conv))

	contents := []string{"first", "second", "third", "fourth"}
	for i, c := range contents {
		msg := domain.Message{
			ID:             domain.MessageID("msg-" + c),
			ConversationID: "conv-1",
			Role:           domain.RoleUser,
			Content:        c,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if c == "second" {
			msg.Role = domain.RoleAgent
			msg.Metadata = map[string]interface{}{"kind": "summary"}
		}
		require.NoError(t, repo.AddMessage(ctx, msg))
	}

	all, err := repo.ListMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "first", all[0].Content)
	assert.Equal(t, "fourth", all[3].Content)
	assert.Equal(t, domain.RoleAgent, all[1].Role)
	assert.Equal(t, "summary", all[1].Metadata["kind"])

	// limit returns the most recent N, still oldest-first
	recent, err := repo.ListMessages(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Content)
	assert.Equal(t, "fourth", recent[1].Content)

	// deleting the conversation removes its messages
	require.NoError(t, repo.DeleteConversation(ctx, "conv-1"))
	all, err = repo.ListMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecutions(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	result := domain.ExecutionResult{
		ExecutionID:    "exec-1",
		AgentID:        "agent-1",
		ConversationID: "conv-1",
		FinalText:      "the answer",
		ThinkingSteps: []domain.ThinkingStep{
			{Kind: domain.StepContinueReasoning, Reasoning: "thinking", Timestamp: now},
			{Kind: domain.StepFinalResponse, Reasoning: "done", Timestamp: now},
		},
		ToolTrace: []domain.ToolTraceEntry{
			{ToolName: "web_fetch", Success: true, Parameters: map[string]interface{}{"url": "https://example.com"}},
		},
		Usage:          domain.TokenUsage{PromptTokens: 100, CompletionTokens: 40},
		IterationsUsed: 2,
		StartedAt:      now.Add(-time.Second),
		FinishedAt:     now,
	}
	require.NoError(t, repo.SaveExecution(ctx, result))

	execs, err := repo.ListExecutions(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	got := execs[0]
	assert.Equal(t, "the answer", got.FinalText)
	assert.Equal(t, 2, got.IterationsUsed)
	assert.Equal(t, 100, got.Usage.PromptTokens)
	assert.Equal(t, 40, got.Usage.CompletionTokens)
	require.Len(t, got.ThinkingSteps, 2)
	assert.Equal(t, domain.StepFinalResponse, got.ThinkingSteps[1].Kind)
	require.Len(t, got.ToolTrace, 1)
	assert.Equal(t, "web_fetch", got.ToolTrace[0].ToolName)
	assert.True(t, got.ToolTrace[0].Success)
}

func TestExecutionsOrderedAndLimited(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveExecution(ctx, domain.ExecutionResult{
			ExecutionID:    fmt.Sprintf("exec-%d", i),
			AgentID:        "agent-1",
			FinalText:      "run",
			ThinkingSteps:  []domain.ThinkingStep{},
			ToolTrace:      []domain.ToolTraceEntry{},
			IterationsUsed: i + 1,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			FinishedAt:     base.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	execs, err := repo.ListExecutions(ctx, "agent-1", 3)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	// newest first
	assert.Equal(t, 5, execs[0].IterationsUsed)
	assert.Equal(t, 4, execs[1].IterationsUsed)
	assert.Equal(t, 3, execs[2].IterationsUsed)
}

func TestSettings(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	_, err := repo.GetSetting(ctx, "provider_config")
	assert.ErrorIs(t, err, domain.ErrSettingNotFound)

	require.NoError(t, repo.SaveSetting(ctx, "provider_config", `{"mode":"local"}`))
	v, err := repo.GetSetting(ctx, "provider_config")
	require.NoError(t, err)
	assert.Equal(t, `{"mode":"local"}`, v)

	// upsert
	require.NoError(t, repo.SaveSetting(ctx, "provider_config", `{"mode":"remote"}`))
	v, err = repo.GetSetting(ctx, "provider_config")
	require.NoError(t, err)
	assert.Equal(t, `{"mode":"remote"}`, v)
}
