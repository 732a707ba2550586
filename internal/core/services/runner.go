package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
	"github.com/switchboardhq/switchboard/internal/metrics"
)

// Fixed terminal texts. The loop must always produce non-empty final text,
// whatever path it terminates through.
const (
	// FallbackText is returned when the iteration budget runs out or the
	// execution is cancelled before the model produced an answer.
	FallbackText = "I'm sorry, I wasn't able to complete that request. Could you rephrase it or try again?"
	// HandoffAckText is returned the moment a human handoff succeeds.
	HandoffAckText = "I've forwarded this conversation to a human operator. Someone will be with you shortly."
)

// terminalStatus labels for metrics.
const (
	statusResponded = "responded"
	statusHandoff   = "handoff"
	statusExhausted = "exhausted"
	statusCancelled = "cancelled"
	statusError     = "error"
)

// ExecutionInput is everything one reasoning-loop run needs. The runner
// never touches conversation storage itself; history arrives pre-rendered
// and state transitions are the caller's job.
type ExecutionInput struct {
	Agent          domain.Agent
	Tools          *domain.ToolRegistry
	Invocation     domain.ToolInvocation
	History        string // rendered prior conversation, may be empty
	UserMessage    string
	DynamicContext map[string]string // extra key/value context from the caller
}

// RunOutcome pairs the execution result with the handoff request the loop
// produced, if any. The caller fires the conversation transition.
type RunOutcome struct {
	Result  domain.ExecutionResult
	Handoff *domain.HandoffInfo
}

// AgentRunner drives the bounded reasoning loop: build prompt, call the
// model, decode the action, execute tools or terminate, accumulate trace and
// usage. One runner serves all agents; every execution owns its own state.
type AgentRunner struct {
	logger  *slog.Logger
	tracer  *TraceCollector
	metrics *metrics.Metrics
	sem     *semaphore.Weighted

	modelMu sync.RWMutex
	model   ports.ModelClient
}

// NewAgentRunner creates a runner. maxConcurrent bounds simultaneous
// executions across all conversations (0 means a default of 32).
func NewAgentRunner(logger *slog.Logger, model ports.ModelClient, tracer *TraceCollector, m *metrics.Metrics, maxConcurrent int64) *AgentRunner {
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &AgentRunner{
		logger:  logger,
		model:   model,
		tracer:  tracer,
		metrics: m,
		sem:     semaphore.NewWeighted(maxConcurrent),
	}
}

// SetModel swaps the model client. Used for settings hot-reload; in-flight
// executions keep the client they started with.
func (r *AgentRunner) SetModel(model ports.ModelClient) {
	r.modelMu.Lock()
	r.model = model
	r.modelMu.Unlock()
}

func (r *AgentRunner) modelClient() ports.ModelClient {
	r.modelMu.RLock()
	defer r.modelMu.RUnlock()
	return r.model
}

// Run executes the loop in blocking mode.
func (r *AgentRunner) Run(ctx context.Context, input ExecutionInput) (RunOutcome, error) {
	return r.run(ctx, input, nil)
}

// RunStream executes the loop in streaming mode: the model output of the
// final respond-bound iteration reaches sink incrementally, with internal
// reasoning suppressed. Terminal shape is identical to Run.
func (r *AgentRunner) RunStream(ctx context.Context, input ExecutionInput, sink ports.ChunkSink) (RunOutcome, error) {
	return r.run(ctx, input, sink)
}

func (r *AgentRunner) run(ctx context.Context, input ExecutionInput, sink ports.ChunkSink) (RunOutcome, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return RunOutcome{}, fmt.Errorf("acquire execution slot: %w", err)
	}
	defer r.sem.Release(1)

	traceName := "chat: " + input.UserMessage
	if len(traceName) > 80 {
		traceName = traceName[:80] + "..."
	}
	ctx, traceID := r.tracer.StartTrace(ctx, traceName, input.Invocation.ConversationID, input.Agent.ID)

	ex := &execution{
		runner:    r,
		input:     input,
		sink:      sink,
		budget:    input.Agent.IterationBudget(),
		startedAt: time.Now(),
	}

	outcome, err := ex.run(ctx)
	if err != nil {
		r.tracer.EndTrace(traceID, err)
		r.metrics.Executions.WithLabelValues(string(input.Agent.Kind), statusError).Inc()
		return RunOutcome{}, err
	}

	r.tracer.EndTrace(traceID, nil)
	r.metrics.Executions.WithLabelValues(string(input.Agent.Kind), ex.status).Inc()
	r.metrics.Iterations.Observe(float64(outcome.Result.IterationsUsed))
	r.metrics.TokensUsed.WithLabelValues("prompt").Add(float64(outcome.Result.Usage.PromptTokens))
	r.metrics.TokensUsed.WithLabelValues("completion").Add(float64(outcome.Result.Usage.CompletionTokens))
	return outcome, nil
}

// execution is the per-run state machine. Everything here is owned by one
// run; nothing is shared.
type execution struct {
	runner *AgentRunner
	input  ExecutionInput
	sink   ports.ChunkSink
	budget int

	startedAt  time.Time
	iterations int
	steps      []domain.ThinkingStep
	trace      []domain.ToolTraceEntry
	usage      domain.TokenUsage
	transcript []string // model outputs + observations, appended per iteration
	status     string
}

func (ex *execution) run(ctx context.Context) (RunOutcome, error) {
	r := ex.runner

	for ex.iterations < ex.budget {
		if ctx.Err() != nil {
			return ex.cancelled(), nil
		}
		ex.iterations++

		content, err := ex.invokeModel(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The model call was interrupted, not failed: the iteration
				// produced nothing, so roll it back and report a partial run.
				ex.iterations--
				return ex.cancelled(), nil
			}
			// Transport failures are fatal for the execution. No retry here;
			// retry policy belongs to the model client.
			return RunOutcome{}, fmt.Errorf("model call (iteration %d): %w", ex.iterations, err)
		}

		action, decodeErr := DecodeAction(content)
		if decodeErr != nil {
			r.logger.Warn("action parse degraded to think",
				"iteration", ex.iterations, "error", decodeErr)
		}

		switch action.Kind {
		case domain.ActionRespond:
			ex.appendStep(domain.StepFinalResponse, action.Reasoning)
			ex.status = statusResponded
			return ex.terminate(action.ResponseText, nil), nil

		case domain.ActionUseTool:
			outcome, done := ex.useTool(ctx, action)
			if done {
				return outcome, nil
			}

		default: // Think, including every degraded parse
			ex.appendStep(domain.StepContinueReasoning, action.Reasoning)
			ex.transcript = append(ex.transcript, content)
		}
	}

	ex.appendStep(domain.StepMaxIterations,
		fmt.Sprintf("no final response after %d iterations", ex.budget))
	ex.status = statusExhausted
	return ex.terminate(FallbackText, nil), nil
}

// invokeModel performs one model call, accumulating usage. In streaming mode
// every call routes through a fresh extractor: only a respond-bound
// completion ever reaches the sink, and the decoder still sees full text.
func (ex *execution) invokeModel(ctx context.Context) (string, error) {
	r := ex.runner
	prompt := ex.buildPrompt()

	llmCtx, spanID := r.tracer.StartSpan(ctx, fmt.Sprintf("llm.complete (iter %d)", ex.iterations), domain.SpanKindLLM, SpanStart{
		Input: prompt,
		Model: ex.input.Agent.Model,
	})

	req := ports.CompletionRequest{
		Model:        ex.input.Agent.Model,
		SystemPrompt: ex.input.Agent.SystemPrompt,
		Prompt:       prompt,
	}

	model := r.modelClient()
	var completion ports.Completion
	var err error
	if ex.sink != nil {
		extractor := NewStreamExtractor(ex.sink)
		completion, err = model.CompleteStream(llmCtx, req, extractor.Feed)
		extractor.Finish()
	} else {
		completion, err = model.Complete(llmCtx, req)
	}
	if err != nil {
		r.tracer.EndSpan(spanID, "", err)
		return "", err
	}

	ex.usage.Add(completion.Usage)
	r.tracer.EndSpan(spanID, completion.Content, nil)
	return completion.Content, nil
}

// useTool executes one tool action. It returns done=true when the loop must
// terminate (successful human handoff).
func (ex *execution) useTool(ctx context.Context, action domain.Action) (RunOutcome, bool) {
	r := ex.runner

	// Fuzzy resolution happens here, not inside Execute, so every branch
	// below (trace, metrics, handoff termination) keys on the registered
	// name even when the model misspelled it.
	toolName := action.ToolName
	if resolved, ok := ex.input.Tools.Resolve(toolName); ok {
		toolName = resolved
	}

	ex.appendStep(domain.StepToolExecution,
		fmt.Sprintf("invoking %s: %s", toolName, action.Reasoning))

	if ctx.Err() != nil {
		return ex.cancelled(), true
	}

	toolCtx, spanID := r.tracer.StartSpan(ctx, "tool."+toolName, domain.SpanKindTool, SpanStart{
		Attributes: map[string]string{"tool": toolName},
	})

	result := ex.input.Tools.Execute(toolCtx, toolName, action.Parameters, ex.input.Invocation)

	entry := domain.ToolTraceEntry{
		ToolName:      toolName,
		Parameters:    action.Parameters,
		ExecutionTime: result.ExecutionTime,
		Success:       result.Success,
		Result:        result.Result,
		ErrorMessage:  result.Error,
	}
	ex.trace = append(ex.trace, entry)

	if !result.Success {
		r.tracer.EndSpan(spanID, "", errors.New(result.Error))
		r.metrics.ToolCalls.WithLabelValues(toolName, "failure").Inc()
		ex.appendStep(domain.StepToolFailed, result.Error)
		// Failures are recoverable context for the next iteration, not fatal.
		ex.transcript = append(ex.transcript,
			fmt.Sprintf("Tool %s failed: %s", toolName, result.Error))
		return RunOutcome{}, false
	}

	r.tracer.EndSpan(spanID, fmt.Sprintf("%v", result.Result), nil)
	r.metrics.ToolCalls.WithLabelValues(toolName, "success").Inc()

	if toolName == domain.HandoffToolName {
		// A successful handoff terminates immediately, even with budget left.
		ex.appendStep(domain.StepHandoffRequested, action.Reasoning)
		r.metrics.Handoffs.Inc()
		ex.status = statusHandoff
		return ex.terminate(HandoffAckText, handoffInfoFrom(action.Parameters)), true
	}

	ex.transcript = append(ex.transcript,
		fmt.Sprintf("Tool %s result: %v", toolName, result.Result))
	return RunOutcome{}, false
}

func (ex *execution) buildPrompt() string {
	var sb strings.Builder

	if ex.input.History != "" {
		sb.WriteString("Previous conversation:\n")
		sb.WriteString(ex.input.History)
		sb.WriteString("---\n\n")
	}

	if len(ex.input.DynamicContext) > 0 {
		sb.WriteString("Context:\n")
		for _, k := range sortedKeys(ex.input.DynamicContext) {
			fmt.Fprintf(&sb, "- %s: %s\n", k, ex.input.DynamicContext[k])
		}
		sb.WriteString("\n")
	}

	sb.WriteString(EncodeInstructions(ex.input.Tools, IterationContext{
		Steps: ex.steps,
		Trace: ex.trace,
	}))

	sb.WriteString("\nUser: ")
	sb.WriteString(ex.input.UserMessage)

	for _, t := range ex.transcript {
		sb.WriteString("\n\n")
		sb.WriteString(t)
	}

	return sb.String()
}

func (ex *execution) appendStep(kind domain.StepKind, reasoning string) {
	ex.steps = append(ex.steps, domain.ThinkingStep{
		Kind:      kind,
		Reasoning: reasoning,
		Timestamp: time.Now(),
	})
}

// cancelled builds the partial result of an interrupted run. Accumulated
// trace and usage survive; final text falls back so the result is complete.
func (ex *execution) cancelled() RunOutcome {
	ex.status = statusCancelled
	return ex.terminate(FallbackText, nil)
}

func (ex *execution) terminate(finalText string, handoff *domain.HandoffInfo) RunOutcome {
	return RunOutcome{
		Result: domain.ExecutionResult{
			ExecutionID:    uuid.New().String(),
			AgentID:        ex.input.Agent.ID,
			ConversationID: ex.input.Invocation.ConversationID,
			FinalText:      finalText,
			ThinkingSteps:  ex.steps,
			ToolTrace:      ex.trace,
			Usage:          ex.usage,
			IterationsUsed: ex.iterations,
			StartedAt:      ex.startedAt,
			FinishedAt:     time.Now(),
		},
		Handoff: handoff,
	}
}

func handoffInfoFrom(params map[string]interface{}) *domain.HandoffInfo {
	info := &domain.HandoffInfo{RequestedAt: time.Now()}
	if v, ok := params["reason"].(string); ok {
		info.Reason = v
	}
	if v, ok := params["urgency"].(string); ok {
		info.Urgency = v
	}
	if v, ok := params["context_summary"].(string); ok {
		info.ContextSummary = v
	}
	return info
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
