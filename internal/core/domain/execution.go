package domain

import "time"

// StepKind classifies one entry in the loop's internal decision log.
type StepKind string

const (
	StepAnalyzeInput      StepKind = "analyze_input"
	StepToolExecution     StepKind = "tool_execution"
	StepToolFailed        StepKind = "tool_failed"
	StepContinueReasoning StepKind = "continue_reasoning"
	StepFinalResponse     StepKind = "final_response"
	StepHandoffRequested  StepKind = "human_handoff_requested"
	StepMaxIterations     StepKind = "max_iterations_reached"
)

// ThinkingStep is an append-only audit entry describing the loop's decision
// at one point in time. One per iteration, plus one per notable sub-event.
type ThinkingStep struct {
	Kind      StepKind  `json:"kind"`
	Reasoning string    `json:"reasoning"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolTraceEntry records one tool invocation and its outcome. Entries are
// appended in invocation order and never mutated after creation.
type ToolTraceEntry struct {
	ToolName      string                 `json:"tool_name"`
	Parameters    map[string]interface{} `json:"parameters"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Success       bool                   `json:"success"`
	Result        interface{}            `json:"result,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
}

// TokenUsage accumulates token counts and cost across loop iterations.
// It only ever grows within one execution.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Add merges another usage sample into u. Addition is field-wise and
// commutative; the loop calls it once per completed model call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// ExecutionResult is the terminal output of one reasoning-loop run.
// FinalText is always populated: on exhaustion or cancellation the loop
// substitutes a fixed fallback message rather than returning empty text.
type ExecutionResult struct {
	ExecutionID    string           `json:"execution_id"`
	AgentID        AgentID          `json:"agent_id"`
	ConversationID ConversationID   `json:"conversation_id,omitempty"`
	FinalText      string           `json:"final_text"`
	ThinkingSteps  []ThinkingStep   `json:"thinking_steps"`
	ToolTrace      []ToolTraceEntry `json:"tool_trace"`
	Usage          TokenUsage       `json:"usage"`
	IterationsUsed int              `json:"iterations_used"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
}
