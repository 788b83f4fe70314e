package protocol_test

import (
	"errors"
	"testing"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

func TestEncodeToolCall(t *testing.T) {
	encoded := protocol.EncodeToolCall(protocol.ToolCall{
		Name:      "calculator",
		Arguments: `{"expression":"2+2"}`,
	})

	want := `tool:calculator, arguments:{"expression":"2+2"}`
	if encoded != want {
		t.Errorf("got %q, want %q", encoded, want)
	}
}

func TestEncodeToolCall_EmptyArguments(t *testing.T) {
	encoded := protocol.EncodeToolCall(protocol.ToolCall{Name: "ping"})

	want := `tool:ping, arguments:{}`
	if encoded != want {
		t.Errorf("got %q, want %q", encoded, want)
	}
}

func TestDecodeToolCall(t *testing.T) {
	tc, err := protocol.DecodeToolCall(`tool:search, arguments:{"query":"weather"}`)
	if err != nil {
		t.Fatalf("DecodeToolCall failed: %v", err)
	}

	if tc.Name != "search" {
		t.Errorf("got name %q, want %q", tc.Name, "search")
	}
	if tc.Arguments != `{"query":"weather"}` {
		t.Errorf("got arguments %q, want %q", tc.Arguments, `{"query":"weather"}`)
	}
}

func TestDecodeToolCall_RoundTrip(t *testing.T) {
	original := protocol.ToolCall{Name: "lookup", Arguments: `{"id":42}`}

	decoded, err := protocol.DecodeToolCall(protocol.EncodeToolCall(original))
	if err != nil {
		t.Fatalf("DecodeToolCall failed: %v", err)
	}

	if decoded.Name != original.Name || decoded.Arguments != original.Arguments {
		t.Errorf("got %+v, want %+v", decoded, original)
	}
}

func TestDecodeToolCall_ArgumentsContainingMarker(t *testing.T) {
	// The arguments payload may itself contain the ", arguments:" text.
	// Only the first marker splits the encoding.
	args := `{"note":"see tool:x, arguments:{} above"}`
	decoded, err := protocol.DecodeToolCall(protocol.EncodeToolCall(protocol.ToolCall{Name: "echo", Arguments: args}))
	if err != nil {
		t.Fatalf("DecodeToolCall failed: %v", err)
	}
	if decoded.Arguments != args {
		t.Errorf("got arguments %q, want %q", decoded.Arguments, args)
	}
}

func TestDecodeToolCall_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing prefix", `search, arguments:{}`},
		{"missing marker", `tool:search {}`},
		{"empty name", `tool:, arguments:{}`},
		{"invalid json", `tool:search, arguments:{broken`},
		{"plain text", `The answer is 4.`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := protocol.DecodeToolCall(tc.content); err == nil {
				t.Errorf("expected error for %q, got nil", tc.content)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, role := range []protocol.Role{
		protocol.RoleSystem,
		protocol.RoleUser,
		protocol.RoleAssistant,
		protocol.RoleToolInput,
		protocol.RoleToolResponse,
	} {
		parsed, err := protocol.ParseRole(string(role))
		if err != nil {
			t.Errorf("ParseRole(%q) failed: %v", role, err)
		}
		if parsed != role {
			t.Errorf("got %q, want %q", parsed, role)
		}
	}
}

func TestParseRole_Unknown(t *testing.T) {
	_, err := protocol.ParseRole("moderator")
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
	if !errors.Is(err, protocol.ErrInvalidRole) {
		t.Errorf("got %v, want ErrInvalidRole", err)
	}
}

func TestNewMessage(t *testing.T) {
	first := protocol.NewMessage("sess-1", protocol.RoleUser, "hello", "alice")
	second := protocol.NewMessage("sess-1", protocol.RoleUser, "world", "alice")

	if first.ID == "" || second.ID == "" {
		t.Fatal("expected non-empty message IDs")
	}
	if first.ID == second.ID {
		t.Errorf("expected distinct IDs, both are %q", first.ID)
	}
	// UUIDv7 IDs are time-ordered.
	if first.ID >= second.ID {
		t.Errorf("expected %q < %q", first.ID, second.ID)
	}
	if first.CreatedAt.IsZero() {
		t.Error("expected non-zero CreatedAt")
	}
}
