// Package store persists conversation sessions and their append-only
// message histories.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

// ErrNotFound is returned when a session or message does not exist.
var ErrNotFound = errors.New("not found")

// Session identifies one chat thread. It owns its messages exclusively;
// deleting a session cascades to them.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentID   string    `json:"agentId"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the persistence boundary for the engine. Message writes are
// append-only; the single mutation paths are the modify-arguments rewrite
// and the edit-and-rewind operation, both of which exist to serve the
// approval and edit flows.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, agentID string, limit, offset int) ([]*Session, error)
	RenameSession(ctx context.Context, id, name string) error

	// DeleteSession removes a session and cascades to its messages.
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, m *protocol.Message) error
	GetMessage(ctx context.Context, id string) (*protocol.Message, error)

	// Messages returns a session's full history in creation order.
	Messages(ctx context.Context, sessionID string) ([]protocol.Message, error)

	// UpdateMessageContent rewrites one message's content in place.
	// Used by the modify decision to reflect edited arguments.
	UpdateMessageContent(ctx context.Context, id, content string) error

	// EditAndTruncate rewrites a user message's content, forces its role
	// back to user, and hard-deletes every message in the session created
	// strictly after it. The whole operation is atomic: on any failure
	// the session is left exactly as it was.
	EditAndTruncate(ctx context.Context, messageID, content string) error

	Close() error
}
