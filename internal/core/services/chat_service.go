package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
	"github.com/switchboardhq/switchboard/internal/metrics"
)

// Fixed gate notifications. Returned without any model call or token spend
// when the conversation is not agent-controlled.
const (
	NoticeHandoffPending = "Your message has been forwarded to a human operator. Please hold on."
	NoticeHumanActive    = "You are currently chatting with a human operator."
)

// summarizeThreshold is the message count past which the summarizer
// collaborator is triggered after an execution.
const summarizeThreshold = 40

// ChatService orchestrates chatbot executions: it owns the conversation
// gate, fires state transitions, and is the only layer that touches
// conversation storage. The reasoning loop never does.
type ChatService struct {
	logger     *slog.Logger
	repo       ports.Repository
	convs      *ConversationStore
	runner     *AgentRunner
	toolsets   *ToolsetBuilder
	bus        *EventBus
	metrics    *metrics.Metrics
	summarizer ports.Summarizer

	// Per-conversation single-writer discipline: concurrent inbound messages
	// for the same conversation serialize here; different conversations are
	// fully independent.
	convMu sync.Mutex
	locks  map[domain.ConversationID]*sync.Mutex
}

func NewChatService(
	logger *slog.Logger,
	repo ports.Repository,
	convs *ConversationStore,
	runner *AgentRunner,
	toolsets *ToolsetBuilder,
	bus *EventBus,
	m *metrics.Metrics,
	summarizer ports.Summarizer,
) *ChatService {
	return &ChatService{
		logger:     logger,
		repo:       repo,
		convs:      convs,
		runner:     runner,
		toolsets:   toolsets,
		bus:        bus,
		metrics:    m,
		summarizer: summarizer,
		locks:      make(map[domain.ConversationID]*sync.Mutex),
	}
}

// ChatRequest is one inbound end-user message for a chatbot agent.
type ChatRequest struct {
	AgentID        domain.AgentID
	ConversationID domain.ConversationID // empty = start a new conversation
	UserID         string
	Message        string
	DynamicContext map[string]string
}

// ExecuteChatbotAgent processes an inbound user message through the gate
// and, when permitted, the reasoning loop. Returns the execution result and
// the conversation it ran in (created on demand).
func (s *ChatService) ExecuteChatbotAgent(ctx context.Context, req ChatRequest) (domain.ExecutionResult, domain.ConversationID, error) {
	return s.executeChatbot(ctx, req, nil)
}

// ExecuteChatbotAgentStream is the streaming sibling: safe response chunks
// reach sink as the final answer is generated; the terminal shape is
// identical to the blocking call.
func (s *ChatService) ExecuteChatbotAgentStream(ctx context.Context, req ChatRequest, sink ports.ChunkSink) (domain.ExecutionResult, domain.ConversationID, error) {
	return s.executeChatbot(ctx, req, sink)
}

func (s *ChatService) executeChatbot(ctx context.Context, req ChatRequest, sink ports.ChunkSink) (domain.ExecutionResult, domain.ConversationID, error) {
	agent, err := s.repo.GetAgent(ctx, req.AgentID)
	if err != nil {
		return domain.ExecutionResult{}, "", fmt.Errorf("load agent: %w", err)
	}
	if agent.Kind != domain.AgentChatbot {
		return domain.ExecutionResult{}, "", fmt.Errorf("agent %s is not a chatbot", agent.ID)
	}

	conv, err := s.resolveConversation(ctx, agent, req)
	if err != nil {
		return domain.ExecutionResult{}, "", err
	}

	unlock := s.lockConversation(conv.ID)
	defer unlock()

	// State may have changed while we waited for the lock.
	conv, err = s.convs.GetConversation(ctx, conv.ID)
	if err != nil {
		return domain.ExecutionResult{}, "", fmt.Errorf("load conversation: %w", err)
	}
	if conv.HandlerState == domain.StateEnded {
		return domain.ExecutionResult{}, conv.ID, domain.ErrConversationEnded
	}

	if err := s.appendMessage(ctx, conv.ID, domain.RoleUser, req.Message); err != nil {
		return domain.ExecutionResult{}, conv.ID, err
	}

	// The gate: only agent-controlled conversations reach the loop.
	if !conv.AgentMayRun() {
		s.metrics.GatedReplies.Inc()
		notice := NoticeHandoffPending
		if conv.HandlerState == domain.StateHumanControlled {
			notice = NoticeHumanActive
		}
		if sink != nil {
			sink(notice)
		}
		s.logger.Info("gate blocked agent execution",
			"conversation_id", conv.ID, "state", conv.HandlerState)
		return domain.ExecutionResult{
			AgentID:        agent.ID,
			ConversationID: conv.ID,
			FinalText:      notice,
			ThinkingSteps:  []domain.ThinkingStep{},
			ToolTrace:      []domain.ToolTraceEntry{},
			StartedAt:      time.Now(),
			FinishedAt:     time.Now(),
		}, conv.ID, nil
	}

	tools, err := s.toolsets.Build(agent)
	if err != nil {
		return domain.ExecutionResult{}, conv.ID, fmt.Errorf("build toolset: %w", err)
	}

	history, err := s.convs.BuildContextWindow(ctx, conv.ID, 20)
	if err != nil {
		return domain.ExecutionResult{}, conv.ID, fmt.Errorf("build context: %w", err)
	}

	input := ExecutionInput{
		Agent: agent,
		Tools: tools,
		Invocation: domain.ToolInvocation{
			OrganizationID: agent.OrganizationID,
			ProjectID:      agent.ProjectID,
			ConversationID: conv.ID,
			AgentID:        agent.ID,
		},
		History:        history,
		UserMessage:    req.Message,
		DynamicContext: req.DynamicContext,
	}

	wrappedSink := sink
	if sink != nil {
		wrappedSink = func(chunk string) {
			sink(chunk)
			// JSON-wrapped so multi-line chunks survive SSE framing downstream
			payload, _ := json.Marshal(map[string]string{"text": chunk})
			s.bus.Publish(Event{
				Key:       string(conv.ID),
				Type:      EventTypeChunk,
				Data:      string(payload),
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}

	var outcome RunOutcome
	if wrappedSink != nil {
		outcome, err = s.runner.RunStream(ctx, input, wrappedSink)
	} else {
		outcome, err = s.runner.Run(ctx, input)
	}
	if err != nil {
		return domain.ExecutionResult{}, conv.ID, err
	}

	if err := s.appendMessage(ctx, conv.ID, domain.RoleAgent, outcome.Result.FinalText); err != nil {
		s.logger.Error("failed to persist agent message", "error", err)
	}

	if outcome.Handoff != nil {
		if err := s.transitionLocked(ctx, conv.ID, domain.EventHandoffRequested, outcome.Handoff); err != nil {
			// The user already got the acknowledgement; losing the transition
			// would strand them, so this one is a real failure.
			return domain.ExecutionResult{}, conv.ID, fmt.Errorf("handoff transition: %w", err)
		}
	}

	if err := s.repo.SaveExecution(ctx, outcome.Result); err != nil {
		s.logger.Warn("failed to persist execution", "execution_id", outcome.Result.ExecutionID, "error", err)
	}

	s.publishStatus(conv.ID, "done", outcome.Result.IterationsUsed)
	s.maybeSummarize(conv.ID)

	return outcome.Result, conv.ID, nil
}

// TaskRequest is one task-agent invocation. Task agents have no
// conversation and therefore no gate and no handoff.
type TaskRequest struct {
	AgentID        domain.AgentID
	Input          string
	DynamicContext map[string]string
}

// ExecuteTaskAgent runs a task agent once. The conversation/handoff gate
// does not apply.
func (s *ChatService) ExecuteTaskAgent(ctx context.Context, req TaskRequest) (domain.ExecutionResult, error) {
	agent, err := s.repo.GetAgent(ctx, req.AgentID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("load agent: %w", err)
	}
	if agent.Kind != domain.AgentTask {
		return domain.ExecutionResult{}, fmt.Errorf("agent %s is not a task agent", agent.ID)
	}

	tools, err := s.toolsets.Build(agent)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("build toolset: %w", err)
	}

	outcome, err := s.runner.Run(ctx, ExecutionInput{
		Agent: agent,
		Tools: tools,
		Invocation: domain.ToolInvocation{
			OrganizationID: agent.OrganizationID,
			ProjectID:      agent.ProjectID,
			AgentID:        agent.ID,
		},
		UserMessage:    req.Input,
		DynamicContext: req.DynamicContext,
	})
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	if err := s.repo.SaveExecution(ctx, outcome.Result); err != nil {
		s.logger.Warn("failed to persist execution", "execution_id", outcome.Result.ExecutionID, "error", err)
	}
	return outcome.Result, nil
}

// Takeover moves a handoff-requested conversation under human control.
func (s *ChatService) Takeover(ctx context.Context, convID domain.ConversationID, operatorID string) error {
	unlock := s.lockConversation(convID)
	defer unlock()
	if err := s.transitionLocked(ctx, convID, domain.EventHumanTakeover, nil); err != nil {
		return err
	}
	return s.appendMessage(ctx, convID, domain.RoleSystem,
		fmt.Sprintf("Operator %s joined the conversation.", operatorID))
}

// Handback returns a human-controlled conversation to the agent.
func (s *ChatService) Handback(ctx context.Context, convID domain.ConversationID, operatorID string) error {
	unlock := s.lockConversation(convID)
	defer unlock()
	if err := s.transitionLocked(ctx, convID, domain.EventHandback, nil); err != nil {
		return err
	}
	return s.appendMessage(ctx, convID, domain.RoleSystem,
		fmt.Sprintf("Operator %s handed the conversation back to the agent.", operatorID))
}

// End closes a conversation from any non-terminal state.
func (s *ChatService) End(ctx context.Context, convID domain.ConversationID) error {
	unlock := s.lockConversation(convID)
	defer unlock()
	return s.transitionLocked(ctx, convID, domain.EventEnd, nil)
}

// OperatorMessage appends a human operator's reply to a conversation they
// control.
func (s *ChatService) OperatorMessage(ctx context.Context, convID domain.ConversationID, operatorID, text string) error {
	unlock := s.lockConversation(convID)
	defer unlock()

	conv, err := s.convs.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv.HandlerState != domain.StateHumanControlled {
		return fmt.Errorf("%w: operator message on %s", domain.ErrInvalidTransition, conv.HandlerState)
	}
	return s.appendMessage(ctx, convID, domain.RoleOperator, text)
}

// --- internal helpers ---

func (s *ChatService) resolveConversation(ctx context.Context, agent domain.Agent, req ChatRequest) (domain.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := s.convs.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		return conv, nil
	}

	// Generate title from first ~50 chars of message
	title := req.Message
	if len(title) > 50 {
		title = title[:50] + "..."
	}
	conv, err := s.convs.CreateConversation(ctx, agent.ID, req.UserID, title)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Info("auto-created conversation", "conversation_id", conv.ID, "agent_id", agent.ID)
	return conv, nil
}

func (s *ChatService) lockConversation(id domain.ConversationID) func() {
	s.convMu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.convMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *ChatService) appendMessage(ctx context.Context, convID domain.ConversationID, role domain.MessageRole, content string) error {
	return s.convs.AddMessage(ctx, domain.Message{
		ID:             domain.NewMessageID(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	})
}

// transitionLocked applies a state-machine event and persists the result.
// Callers must hold the conversation lock.
func (s *ChatService) transitionLocked(ctx context.Context, convID domain.ConversationID, event domain.ConversationEvent, handoff *domain.HandoffInfo) error {
	conv, err := s.convs.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := conv.Transition(event); err != nil {
		return err
	}
	if handoff != nil {
		conv.HandoffInfo = handoff
	}
	if err := s.convs.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("persist conversation: %w", err)
	}

	s.logger.Info("conversation transition",
		"conversation_id", convID, "event", event, "state", conv.HandlerState)
	return nil
}

func (s *ChatService) publishStatus(convID domain.ConversationID, status string, iterations int) {
	payload, _ := json.Marshal(map[string]interface{}{
		"status":     status,
		"iterations": iterations,
	})
	s.bus.Publish(Event{
		Key:       string(convID),
		Type:      EventTypeStatus,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

// maybeSummarize triggers the summarizer collaborator when the conversation
// has grown long. Fire-and-forget; the summary call itself is external.
func (s *ChatService) maybeSummarize(convID domain.ConversationID) {
	if s.summarizer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgs, err := s.convs.GetMessages(ctx, convID, 0)
		if err != nil || len(msgs) < summarizeThreshold {
			return
		}
		if _, err := s.summarizer.Summarize(ctx, convID, msgs); err != nil {
			s.logger.Warn("summarization failed", "conversation_id", convID, "error", err)
		}
	}()
}
