package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tool describes a callable function discovered from a tool server.
// InputSchema uses JSON Schema format. Descriptors are rediscovered every
// turn; tool servers may change between turns, so they are never cached.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolCall is a model-proposed invocation of a named tool.
// ID correlates the proposal with its eventual response; in persisted
// history the tool_input message ID serves as the call ID.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

const (
	toolPrefix = "tool:"
	argsMarker = ", arguments:"
)

// EncodeToolCall renders a tool call as tool_input message content:
//
//	tool:<name>, arguments:<json>
func EncodeToolCall(tc ToolCall) string {
	args := tc.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	return toolPrefix + tc.Name + argsMarker + args
}

// DecodeToolCall parses tool_input message content produced by
// EncodeToolCall. The arguments part must be valid JSON.
func DecodeToolCall(content string) (ToolCall, error) {
	if !strings.HasPrefix(content, toolPrefix) {
		return ToolCall{}, fmt.Errorf("not a tool call encoding: %q", content)
	}
	rest := content[len(toolPrefix):]
	i := strings.Index(rest, argsMarker)
	if i < 0 {
		return ToolCall{}, fmt.Errorf("tool call encoding missing arguments: %q", content)
	}

	tc := ToolCall{
		Name:      rest[:i],
		Arguments: rest[i+len(argsMarker):],
	}
	if tc.Name == "" {
		return ToolCall{}, fmt.Errorf("tool call encoding missing name: %q", content)
	}
	if !json.Valid([]byte(tc.Arguments)) {
		return ToolCall{}, fmt.Errorf("tool call arguments are not valid JSON: %q", tc.Arguments)
	}
	return tc, nil
}
