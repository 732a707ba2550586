package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// ModelSummarizer condenses long conversations with a single model call and
// stores the summary as a system message so it lands in future context
// windows.
type ModelSummarizer struct {
	logger *slog.Logger
	model  ports.ModelClient
	convs  *ConversationStore
	name   string // model to summarize with
}

var _ ports.Summarizer = (*ModelSummarizer)(nil)

func NewModelSummarizer(logger *slog.Logger, model ports.ModelClient, convs *ConversationStore, modelName string) *ModelSummarizer {
	return &ModelSummarizer{logger: logger, model: model, convs: convs, name: modelName}
}

func (s *ModelSummarizer) Summarize(ctx context.Context, convID domain.ConversationID, messages []domain.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}

	completion, err := s.model.Complete(ctx, ports.CompletionRequest{
		Model: s.name,
		Prompt: "Summarize the following conversation in at most five sentences. " +
			"Keep names, decisions, and unresolved questions.\n\n" + sb.String(),
	})
	if err != nil {
		return "", fmt.Errorf("summarize conversation %s: %w", convID, err)
	}

	summary := strings.TrimSpace(completion.Content)
	if summary == "" {
		return "", nil
	}

	err = s.convs.AddMessage(ctx, domain.Message{
		ID:             domain.NewMessageID(),
		ConversationID: convID,
		Role:           domain.RoleSystem,
		Content:        "Conversation summary: " + summary,
		Metadata:       map[string]interface{}{"kind": "summary"},
		CreatedAt:      time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to store summary message", "conversation_id", convID, "error", err)
	}
	return summary, nil
}

// NoopSummarizer satisfies the port when summarization is disabled.
type NoopSummarizer struct{}

func (NoopSummarizer) Summarize(context.Context, domain.ConversationID, []domain.Message) (string, error) {
	return "", nil
}
