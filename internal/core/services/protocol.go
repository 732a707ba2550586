package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/switchboardhq/switchboard/internal/core/domain"
)

// Wire-level protocol markers. These are the contract with the model:
// emission is case-sensitive and must match exactly. Keeping them here as
// named constants makes protocol drift a one-place change.
const (
	MarkerAction     = "ACTION:"
	MarkerTool       = "TOOL:"
	MarkerParameters = "PARAMETERS:"
	MarkerResponse   = "RESPONSE:"
	MarkerReasoning  = "REASONING:"
)

// Action verbs accepted after MarkerAction.
const (
	verbUseTool = "use_tool"
	verbRespond = "respond"
	verbThink   = "think"
)

// fieldMarkers lists every marker that terminates a multi-line RESPONSE span.
var fieldMarkers = []string{MarkerAction, MarkerTool, MarkerParameters, MarkerReasoning}

// IterationContext is the loop state the codec renders into each prompt:
// prior thinking steps and the tool trace accumulated so far.
type IterationContext struct {
	Steps []domain.ThinkingStep
	Trace []domain.ToolTraceEntry
}

// EncodeInstructions renders the action-protocol prompt fragment: available
// tools, prior steps and tool outcomes, then the three allowed response
// formats. Rendering is deterministic: the same tools and trace always
// produce byte-identical text.
func EncodeInstructions(tools *domain.ToolRegistry, ictx IterationContext) string {
	var sb strings.Builder

	sb.WriteString(tools.FormatToolsForPrompt())
	sb.WriteString("\n")

	if len(ictx.Steps) > 0 {
		sb.WriteString("Previous reasoning steps:\n")
		for i, step := range ictx.Steps {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, step.Kind, step.Reasoning)
		}
		sb.WriteString("\n")
	}

	if len(ictx.Trace) > 0 {
		sb.WriteString("Tool results so far:\n")
		for _, entry := range ictx.Trace {
			if entry.Success {
				resultJSON, _ := json.Marshal(entry.Result)
				fmt.Fprintf(&sb, "- %s succeeded: %s\n", entry.ToolName, resultJSON)
			} else {
				fmt.Fprintf(&sb, "- %s failed: %s\n", entry.ToolName, entry.ErrorMessage)
			}
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, `You must reply in exactly one of these three formats.

To use a tool:
%s %s
%s <exact tool name from the list above>
%s <JSON object with the tool arguments>
%s <why you chose this tool>

To answer the user:
%s %s
%s <your answer to the user>
%s <why this answers the request>

To keep thinking:
%s %s
%s <your reasoning>
`,
		MarkerAction, verbUseTool,
		MarkerTool,
		MarkerParameters,
		MarkerReasoning,
		MarkerAction, verbRespond,
		MarkerResponse,
		MarkerReasoning,
		MarkerAction, verbThink,
		MarkerReasoning,
	)

	return sb.String()
}

// DecodeAction parses raw model output into an Action. It never fails hard:
// when no action verb is recognized or a required value is missing it
// returns a Think action carrying the raw text together with
// domain.ErrActionParse, and the loop continues.
func DecodeAction(raw string) (domain.Action, error) {
	verb := firstLineField(raw, MarkerAction)
	toolName := firstLineField(raw, MarkerTool)
	reasoning := firstLineField(raw, MarkerReasoning)

	switch normalizeVerb(verb) {
	case verbRespond:
		text := extractResponse(raw)
		if text == "" {
			return domain.ThinkAction(strings.TrimSpace(raw)), fmt.Errorf("%w: respond without %s text", domain.ErrActionParse, MarkerResponse)
		}
		return domain.RespondAction(text, reasoning), nil

	case verbUseTool:
		if toolName == "" {
			return domain.ThinkAction(strings.TrimSpace(raw)), fmt.Errorf("%w: use_tool without %s", domain.ErrActionParse, MarkerTool)
		}
		return domain.UseToolAction(toolName, extractParameters(raw), reasoning), nil

	case verbThink:
		if reasoning == "" {
			reasoning = strings.TrimSpace(raw)
		}
		return domain.ThinkAction(reasoning), nil

	default:
		// No recognizable verb: the whole output becomes reasoning context.
		return domain.ThinkAction(strings.TrimSpace(raw)), fmt.Errorf("%w: no action verb", domain.ErrActionParse)
	}
}

// firstLineField scans line-by-line for a single-line field and returns the
// trimmed value of its first occurrence.
func firstLineField(raw, marker string) string {
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, marker) {
			return strings.TrimSpace(trimmed[len(marker):])
		}
	}
	return ""
}

func normalizeVerb(verb string) string {
	return strings.ToLower(strings.TrimSpace(verb))
}

// extractResponse returns the multi-line RESPONSE span: everything after the
// marker up to the next field marker or end of text, trimmed.
func extractResponse(raw string) string {
	start := strings.Index(raw, MarkerResponse)
	if start < 0 {
		return ""
	}
	rest := raw[start+len(MarkerResponse):]

	end := len(rest)
	for _, marker := range fieldMarkers {
		if idx := strings.Index(rest, marker); idx >= 0 && idx < end {
			end = idx
		}
	}
	return strings.TrimSpace(rest[:end])
}

// extractParameters finds the JSON object after PARAMETERS: by counting brace
// depth from the first '{'. This is deliberately not a line-based scan:
// parameter values may span lines, nest objects, and even contain the field
// marker words inside strings. A missing block or malformed JSON degrades to
// an empty map; the decoder never aborts the loop over parameters.
func extractParameters(raw string) map[string]interface{} {
	loc := strings.Index(raw, MarkerParameters)
	if loc < 0 {
		return map[string]interface{}{}
	}

	rest := raw[loc+len(MarkerParameters):]
	start := strings.Index(rest, "{")
	if start < 0 {
		return map[string]interface{}{}
	}

	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(rest); i++ {
		ch := rest[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inStr {
			escaped = true
			continue
		}
		if ch == '"' {
			inStr = !inStr
			continue
		}
		if inStr {
			continue
		}
		if ch == '{' {
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 {
				var params map[string]interface{}
				if err := json.Unmarshal([]byte(rest[start:i+1]), &params); err != nil {
					return map[string]interface{}{}
				}
				return params
			}
		}
	}

	// Unbalanced braces: treat as absent.
	return map[string]interface{}{}
}
