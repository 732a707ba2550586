package domain

import "errors"

// ActionKind discriminates the decoded intent of one model completion.
type ActionKind string

const (
	// ActionThink means the model produced reasoning but no tool call or answer.
	ActionThink ActionKind = "think"
	// ActionUseTool means the model requested a tool invocation.
	ActionUseTool ActionKind = "use_tool"
	// ActionRespond means the model produced a final user-facing answer.
	ActionRespond ActionKind = "respond"
)

// Action is the decoded intent of one reasoning-loop iteration.
// Exactly one variant is active, selected by Kind. Constructed once per
// iteration from raw model text and never mutated afterwards.
type Action struct {
	Kind         ActionKind             `json:"kind"`
	Reasoning    string                 `json:"reasoning,omitempty"`
	ToolName     string                 `json:"tool_name,omitempty"`     // use_tool only
	Parameters   map[string]interface{} `json:"parameters,omitempty"`    // use_tool only
	ResponseText string                 `json:"response_text,omitempty"` // respond only
}

// ErrActionParse signals that raw model text did not contain a recognizable
// action. Callers degrade to a Think action; this is never a hard failure.
var ErrActionParse = errors.New("unrecognized action in model output")

// ThinkAction builds a Think variant from raw reasoning text.
func ThinkAction(reasoning string) Action {
	return Action{Kind: ActionThink, Reasoning: reasoning}
}

// UseToolAction builds a UseTool variant. A nil parameter map is normalized
// to an empty one so tool executors never see nil.
func UseToolAction(tool string, params map[string]interface{}, reasoning string) Action {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Action{Kind: ActionUseTool, ToolName: tool, Parameters: params, Reasoning: reasoning}
}

// RespondAction builds a Respond variant.
func RespondAction(text string, reasoning string) Action {
	return Action{Kind: ActionRespond, ResponseText: text, Reasoning: reasoning}
}
