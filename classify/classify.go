// Package classify normalizes a raw model turn into one of the five
// canonical message roles plus its content. Classification is a pure
// function; persistence and anomaly logging are the caller's job.
package classify

import (
	"errors"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

// ErrEmptyTurn is returned for a turn carrying neither text nor tool
// calls. Callers treat it as an upstream availability failure rather than
// guessing at intent.
var ErrEmptyTurn = errors.New("model turn carries neither text nor tool calls")

// Result is the classified form of one model turn.
type Result struct {
	Role    protocol.Role
	Content string

	// ToolCall is set when Role is tool_input. Extra holds any calls
	// beyond the first; the orchestrator proposes them one at a time.
	ToolCall *protocol.ToolCall
	Extra    []protocol.ToolCall

	// Anomaly is set when the turn carried both text and tool calls.
	// Text wins and the calls are dropped, but the caller must log it.
	Anomaly bool
}

// Classify maps a normalized turn to a canonical role and content.
//
// Text with no tool calls classifies as assistant. Tool calls with no
// text classify as tool_input, content-encoded via EncodeToolCall. When a
// turn somehow carries both, text wins and Anomaly is set. Echoed system
// and user turns map through unchanged.
func Classify(turn *protocol.Turn) (Result, error) {
	switch turn.Role {
	case protocol.RoleSystem, protocol.RoleUser:
		return Result{Role: turn.Role, Content: turn.Content}, nil
	}

	hasText := turn.Content != ""
	hasCalls := len(turn.ToolCalls) > 0

	switch {
	case hasText && hasCalls:
		return Result{
			Role:    protocol.RoleAssistant,
			Content: turn.Content,
			Anomaly: true,
		}, nil

	case hasText:
		return Result{Role: protocol.RoleAssistant, Content: turn.Content}, nil

	case hasCalls:
		first := turn.ToolCalls[0]
		return Result{
			Role:     protocol.RoleToolInput,
			Content:  protocol.EncodeToolCall(first),
			ToolCall: &first,
			Extra:    turn.ToolCalls[1:],
		}, nil
	}

	return Result{}, ErrEmptyTurn
}
