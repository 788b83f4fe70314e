package classify_test

import (
	"errors"
	"testing"

	"github.com/tailored-agentic-units/converse/classify"
	"github.com/tailored-agentic-units/converse/core/protocol"
)

func TestClassify_Text(t *testing.T) {
	result, err := classify.Classify(&protocol.Turn{
		Role:    protocol.RoleAssistant,
		Content: "The answer is 4.",
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.Role != protocol.RoleAssistant {
		t.Errorf("got role %q, want %q", result.Role, protocol.RoleAssistant)
	}
	if result.Content != "The answer is 4." {
		t.Errorf("got content %q, want %q", result.Content, "The answer is 4.")
	}
	if result.ToolCall != nil {
		t.Errorf("got tool call %+v, want nil", result.ToolCall)
	}
	if result.Anomaly {
		t.Error("got anomaly true, want false")
	}
}

func TestClassify_ToolCall(t *testing.T) {
	result, err := classify.Classify(&protocol.Turn{
		Role: protocol.RoleAssistant,
		ToolCalls: []protocol.ToolCall{
			{ID: "call-1", Name: "calculator", Arguments: `{"expression":"2+2"}`},
		},
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.Role != protocol.RoleToolInput {
		t.Errorf("got role %q, want %q", result.Role, protocol.RoleToolInput)
	}
	if result.ToolCall == nil {
		t.Fatal("expected a tool call")
	}
	if result.ToolCall.Name != "calculator" {
		t.Errorf("got tool name %q, want %q", result.ToolCall.Name, "calculator")
	}

	want := `tool:calculator, arguments:{"expression":"2+2"}`
	if result.Content != want {
		t.Errorf("got content %q, want %q", result.Content, want)
	}
}

func TestClassify_MultipleToolCalls(t *testing.T) {
	result, err := classify.Classify(&protocol.Turn{
		Role: protocol.RoleAssistant,
		ToolCalls: []protocol.ToolCall{
			{Name: "first", Arguments: `{}`},
			{Name: "second", Arguments: `{}`},
		},
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.ToolCall.Name != "first" {
		t.Errorf("got tool name %q, want %q", result.ToolCall.Name, "first")
	}
	if len(result.Extra) != 1 || result.Extra[0].Name != "second" {
		t.Errorf("got extra %+v, want one call named second", result.Extra)
	}
}

func TestClassify_TextWithToolCalls(t *testing.T) {
	// Ambiguous turn: text wins, calls are dropped and flagged.
	result, err := classify.Classify(&protocol.Turn{
		Role:    protocol.RoleAssistant,
		Content: "Let me check that.",
		ToolCalls: []protocol.ToolCall{
			{Name: "search", Arguments: `{}`},
		},
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.Role != protocol.RoleAssistant {
		t.Errorf("got role %q, want %q", result.Role, protocol.RoleAssistant)
	}
	if result.ToolCall != nil {
		t.Errorf("got tool call %+v, want nil", result.ToolCall)
	}
	if !result.Anomaly {
		t.Error("got anomaly false, want true")
	}
}

func TestClassify_Empty(t *testing.T) {
	_, err := classify.Classify(&protocol.Turn{Role: protocol.RoleAssistant})
	if !errors.Is(err, classify.ErrEmptyTurn) {
		t.Errorf("got %v, want ErrEmptyTurn", err)
	}
}

func TestClassify_PassThroughRoles(t *testing.T) {
	for _, role := range []protocol.Role{protocol.RoleSystem, protocol.RoleUser} {
		result, err := classify.Classify(&protocol.Turn{Role: role, Content: "echoed"})
		if err != nil {
			t.Fatalf("Classify(%q) failed: %v", role, err)
		}
		if result.Role != role {
			t.Errorf("got role %q, want %q", result.Role, role)
		}
	}
}
