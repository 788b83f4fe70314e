// Package protocol defines the canonical conversation data model shared by
// every engine subsystem: message roles, messages, tool calls, tool
// descriptors, and the normalized model turn.
//
// A tool_input message carries its proposed call encoded in the content
// field (EncodeToolCall / DecodeToolCall); the message ID doubles as the
// tool call correlation ID across the approval round-trip.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRole is returned when a role string is outside the closed set.
var ErrInvalidRole = errors.New("invalid message role")

// Role identifies the sender of a conversation message.
// The set is closed; anything else is rejected at the persistence boundary.
type Role string

const (
	RoleSystem       Role = "system"
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleToolInput    Role = "tool_input"
	RoleToolResponse Role = "tool_response"
)

// ParseRole validates a raw role string against the closed role set.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSystem, RoleUser, RoleAssistant, RoleToolInput, RoleToolResponse:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// IsValid reports whether r is one of the five canonical roles.
func (r Role) IsValid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Message is one entry in a session's append-only conversation history.
// Messages are immutable once written; the single exception is the
// edit-and-rewind path, which rewrites a user message and discards
// everything after it.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage creates a Message with a fresh UUIDv7 identifier and the
// current timestamp. UUIDv7 IDs sort in creation order, matching the
// store's ordering guarantee.
func NewMessage(sessionID string, role Role, content, author string) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Author:    author,
		CreatedAt: time.Now().UTC(),
	}
}
