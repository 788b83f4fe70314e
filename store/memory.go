package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

// MemoryStore implements Store with in-process state. Used by tests and
// throwaway sessions; semantics match the SQLite implementation,
// including all-or-nothing edit-and-rewind.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]protocol.Message // keyed by session ID, creation order
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]protocol.Message),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %q already exists", sess.ID)
	}
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	copied := *sess
	return &copied, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, agentID string, limit, offset int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var all []*Session
	for _, sess := range s.sessions {
		if agentID != "" && sess.AgentID != agentID {
			continue
		}
		copied := *sess
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) RenameSession(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	sess.Name = name
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *protocol.Message) error {
	if !m.Role.IsValid() {
		return fmt.Errorf("append message: invalid role %q", m.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[m.SessionID]; !ok {
		return fmt.Errorf("session %q: %w", m.SessionID, ErrNotFound)
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				copied := msgs[i]
				return &copied, nil
			}
		}
	}
	return nil, fmt.Errorf("message %q: %w", id, ErrNotFound)
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	copied := make([]protocol.Message, len(msgs))
	copy(copied, msgs)
	return copied, nil
}

func (s *MemoryStore) UpdateMessageContent(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sessionID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				s.messages[sessionID][i].Content = content
				return nil
			}
		}
	}
	return fmt.Errorf("message %q: %w", id, ErrNotFound)
}

func (s *MemoryStore) EditAndTruncate(_ context.Context, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate first, then swap in a rebuilt history. Nothing is touched
	// until every check has passed, so failure leaves the session intact.
	for sessionID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].Role != protocol.RoleUser {
				return fmt.Errorf("edit message %q: only user messages can be edited", messageID)
			}

			cutoff := msgs[i].CreatedAt
			rebuilt := make([]protocol.Message, 0, i+1)
			for _, m := range msgs {
				if m.ID == messageID {
					m.Content = content
					m.Role = protocol.RoleUser
					rebuilt = append(rebuilt, m)
					continue
				}
				if m.CreatedAt.After(cutoff) {
					continue
				}
				rebuilt = append(rebuilt, m)
			}
			s.messages[sessionID] = rebuilt
			if sess, ok := s.sessions[sessionID]; ok {
				sess.UpdatedAt = time.Now().UTC()
			}
			return nil
		}
	}
	return fmt.Errorf("message %q: %w", messageID, ErrNotFound)
}

func (s *MemoryStore) Close() error { return nil }
