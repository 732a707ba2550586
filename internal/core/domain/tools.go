package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ToolInvocation carries the per-call identity context every tool receives.
// OrganizationID and ProjectID are always present; ConversationID and
// AgentID are set for chatbot executions (the handoff tool requires them).
type ToolInvocation struct {
	OrganizationID string
	ProjectID      string
	ConversationID ConversationID
	AgentID        AgentID
}

// ToolResult is the structured outcome of one tool execution.
type ToolResult struct {
	Success       bool          `json:"success"`
	Result        interface{}   `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// ToolExecutor is the function signature for tool execution.
type ToolExecutor func(ctx context.Context, params map[string]interface{}, inv ToolInvocation) (interface{}, error)

// ToolParameters describes a tool's input schema for the prompt.
type ToolParameters struct {
	Properties map[string]string `json:"properties"` // param name -> type
	Required   []string          `json:"required"`
}

// Tool is an executable capability available to an agent.
type Tool struct {
	Name        string
	Description string
	Parameters  ToolParameters
	Execute     ToolExecutor
}

// ToolRegistry holds the tools one agent may invoke. Built once per agent
// from its validated ToolConfigs.
type ToolRegistry struct {
	tools map[string]*Tool
}

// NewToolRegistry creates a new empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	r.tools[tool.Name] = tool
	return nil
}

// Resolve maps a possibly hallucinated tool name to the registered name it
// will execute as: exact match first, then fuzzy. Callers that branch on
// tool identity must key on the resolved name, not the model's spelling.
func (r *ToolRegistry) Resolve(name string) (string, bool) {
	if _, ok := r.tools[name]; ok {
		return name, true
	}
	if match := r.fuzzyMatch(name); match != "" {
		return match, true
	}
	return "", false
}

// Execute runs a tool and wraps the outcome with timing. An unknown name is
// first fuzzy-matched to tolerate model-hallucinated variants; if nothing
// matches, the result is a failure, never a panic or hard error.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params map[string]interface{}, inv ToolInvocation) ToolResult {
	resolved, ok := r.Resolve(name)
	if !ok {
		return ToolResult{Success: false, Error: fmt.Sprintf("tool not found: %s", name)}
	}
	tool := r.tools[resolved]

	start := time.Now()
	result, err := tool.Execute(ctx, params, inv)
	elapsed := time.Since(start)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), ExecutionTime: elapsed}
	}
	return ToolResult{Success: true, Result: result, ExecutionTime: elapsed}
}

// fuzzyMatch finds the best matching tool name for a hallucinated/wrong name.
// It uses word-overlap scoring + Levenshtein distance as tiebreaker.
// Returns empty string if no reasonable match is found.
func (r *ToolRegistry) fuzzyMatch(input string) string {
	inputWords := splitToolWords(input)

	bestName := ""
	bestScore := 0

	for name := range r.tools {
		nameWords := splitToolWords(name)
		score := wordOverlapScore(inputWords, nameWords)

		if score > bestScore {
			bestScore = score
			bestName = name
		} else if score == bestScore && score > 0 {
			if levenshtein(input, name) < levenshtein(input, bestName) {
				bestName = name
			}
		}
	}

	if bestScore >= 1 {
		return bestName
	}
	return ""
}

func splitToolWords(name string) []string {
	parts := []string{}
	for _, p := range strings.Split(strings.ToLower(name), "_") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func wordOverlapScore(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, w := range b {
		set[w] = true
	}
	score := 0
	for _, w := range a {
		if set[w] {
			score++
		}
	}
	return score
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

// GetTool returns a tool by name
func (r *ToolRegistry) GetTool(name string) (*Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// ListTools returns all registered tools sorted by name, so prompt rendering
// is deterministic.
func (r *ToolRegistry) ListTools() []*Tool {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]*Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// FormatToolsForPrompt generates a concise description of available tools for
// the model prompt. Compact format: "name - description" (params) to reduce
// token usage. Iteration is name-sorted: identical registries always render
// byte-identical text.
func (r *ToolRegistry) FormatToolsForPrompt() string {
	result := "Available Tools:\n"
	for _, tool := range r.ListTools() {
		reqParams := ""
		if len(tool.Parameters.Required) > 0 {
			reqParams = " | required: " + strings.Join(tool.Parameters.Required, ", ")
		}

		paramsList := ""
		if len(tool.Parameters.Properties) > 0 {
			names := make([]string, 0, len(tool.Parameters.Properties))
			for pName := range tool.Parameters.Properties {
				names = append(names, pName)
			}
			sort.Strings(names)
			parts := make([]string, 0, len(names))
			for _, pName := range names {
				parts = append(parts, pName+":"+tool.Parameters.Properties[pName])
			}
			paramsList = " | params: {" + strings.Join(parts, ", ") + "}"
		}

		result += fmt.Sprintf("- %s: %s%s%s\n", tool.Name, tool.Description, paramsList, reqParams)
	}
	return result
}
