package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tailored-agentic-units/converse/core/protocol"
	"github.com/tailored-agentic-units/converse/store"
)

// runStoreTests exercises one Store implementation against the shared
// contract. Both backends must behave identically.
func runStoreTests(t *testing.T, open func(t *testing.T) store.Store) {
	ctx := context.Background()

	var sessionSeq atomic.Int64
	newSession := func(t *testing.T, s store.Store, agentID string) *store.Session {
		t.Helper()
		sess := &store.Session{
			ID:        fmt.Sprintf("sess-%s-%d", t.Name(), sessionSeq.Add(1)),
			Name:      "test session",
			AgentID:   agentID,
			CreatedBy: "alice",
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		return sess
	}

	appendMsg := func(t *testing.T, s store.Store, sessionID string, role protocol.Role, content string, at time.Time) protocol.Message {
		t.Helper()
		m := protocol.NewMessage(sessionID, role, content, "alice")
		m.CreatedAt = at
		if err := s.AppendMessage(ctx, &m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		return m
	}

	t.Run("SessionRoundTrip", func(t *testing.T) {
		s := open(t)
		sess := newSession(t, s, "agent-1")

		got, err := s.GetSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.Name != "test session" || got.AgentID != "agent-1" || got.CreatedBy != "alice" {
			t.Errorf("got %+v, want fields preserved", got)
		}
	})

	t.Run("GetSession_NotFound", func(t *testing.T) {
		s := open(t)
		_, err := s.GetSession(ctx, "missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListSessions_FilterByAgent", func(t *testing.T) {
		s := open(t)
		newSession(t, s, "agent-a")
		newSession(t, s, "agent-a")
		newSession(t, s, "agent-b")

		got, err := s.ListSessions(ctx, "agent-a", 10, 0)
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d sessions, want 2", len(got))
		}

		all, err := s.ListSessions(ctx, "", 10, 0)
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("got %d sessions, want 3", len(all))
		}
	})

	t.Run("RenameSession", func(t *testing.T) {
		s := open(t)
		sess := newSession(t, s, "agent-1")

		if err := s.RenameSession(ctx, sess.ID, "renamed"); err != nil {
			t.Fatalf("RenameSession failed: %v", err)
		}
		got, err := s.GetSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.Name != "renamed" {
			t.Errorf("got name %q, want %q", got.Name, "renamed")
		}

		if err := s.RenameSession(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("MessagesInCreationOrder", func(t *testing.T) {
		s := open(t)
		sess := newSession(t, s, "agent-1")

		base := time.Now().UTC()
		appendMsg(t, s, sess.ID, protocol.RoleUser, "first", base)
		appendMsg(t, s, sess.ID, protocol.RoleAssistant, "second", base.Add(time.Millisecond))
		appendMsg(t, s, sess.ID, protocol.RoleUser, "third", base.Add(2*time.Millisecond))

		got, err := s.Messages(ctx, sess.ID)
		if err != nil {
			t.Fatalf("Messages failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d messages, want 3", len(got))
		}
		for i, want := range []string{"first", "second", "third"} {
			if got[i].Content != want {
				t.Errorf("message %d: got %q, want %q", i, got[i].Content, want)
			}
		}
	})

	t.Run("DeleteSession_Cascades", func(t *testing.T) {
		s := open(t)
		sess := newSession(t, s, "agent-1")
		m := appendMsg(t, s, sess.ID, protocol.RoleUser, "hello", time.Now().UTC())

		if err := s.DeleteSession(ctx, sess.ID); err != nil {
			t.Fatalf("DeleteSession failed: %v", err)
		}
		if _, err := s.GetSession(ctx, sess.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound for deleted session", err)
		}
		if _, err := s.GetMessage(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound for cascaded message", err)
		}
	})

	t.Run("UpdateMessageContent", func(t *testing.T) {
		s := open(t)
		sess := newSession(t, s, "agent-1")
		m := appendMsg(t, s, sess.ID, protocol.RoleToolInput, `tool:calc, arguments:{"a":1}`, time.Now().UTC())

		rewritten := `tool:calc, arguments:{"a":2}`
		if err := s.UpdateMessageContent(ctx, m.ID, rewritten); err != nil {
			t.Fatalf("UpdateMessageContent failed: %v", err)
		}
		got, err := s.GetMessage(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetMessage failed: %v", err)
		}
		if got.Content != rewritten {
			t.Errorf("got %q, want %q", got.Content, rewritten)
		}
	})

	t.Run("EditAndTruncate", func(t *testing.T) {
		s := open(t)
		sess := newSession(t, s, "agent-1")

		base := time.Now().UTC()
		appendMsg(t, s, sess.ID, protocol.RoleUser, "keep me", base)
		target := appendMsg(t, s, sess.ID, protocol.RoleUser, "original question", base.Add(time.Millisecond))
		appendMsg(t, s, sess.ID, protocol.RoleAssistant, "stale answer", base.Add(2*time.Millisecond))
		appendMsg(t, s, sess.ID, protocol.RoleUser, "stale followup", base.Add(3*time.Millisecond))

		if err := s.EditAndTruncate(ctx, target.ID, "edited question"); err != nil {
			t.Fatalf("EditAndTruncate failed: %v", err)
		}

		got, err := s.Messages(ctx, sess.ID)
		if err != nil {
			t.Fatalf("Messages failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d messages, want 2", len(got))
		}
		if got[0].Content != "keep me" {
			t.Errorf("got first %q, want %q", got[0].Content, "keep me")
		}
		if got[1].Content != "edited question" {
			t.Errorf("got second %q, want %q", got[1].Content, "edited question")
		}
		if got[1].Role != protocol.RoleUser {
			t.Errorf("got role %q, want %q", got[1].Role, protocol.RoleUser)
		}
	})

	t.Run("EditAndTruncate_NonUserMessage", func(t *testing.T) {
		s := open(t)
		sess := newSession(t, s, "agent-1")

		base := time.Now().UTC()
		target := appendMsg(t, s, sess.ID, protocol.RoleAssistant, "an answer", base)
		appendMsg(t, s, sess.ID, protocol.RoleUser, "still here", base.Add(time.Millisecond))

		if err := s.EditAndTruncate(ctx, target.ID, "rewrite"); err == nil {
			t.Fatal("expected error editing a non-user message, got nil")
		}

		// Failed edits leave the session untouched.
		got, err := s.Messages(ctx, sess.ID)
		if err != nil {
			t.Fatalf("Messages failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d messages, want 2 (unchanged)", len(got))
		}
		if got[0].Content != "an answer" {
			t.Errorf("got %q, want original content preserved", got[0].Content)
		}
	})

	t.Run("EditAndTruncate_NotFound", func(t *testing.T) {
		s := open(t)
		if err := s.EditAndTruncate(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) store.Store {
		s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("NewSQLite failed: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// A failure during the truncation itself must roll back the rewrite that
// preceded it, leaving the full pre-edit history intact. The failure is
// injected at the SQLite level with a trigger that aborts any delete on
// the messages table mid-transaction.
func TestSQLiteEditAndTruncate_FailureMidDeleteRollsBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	sess := &store.Session{
		ID:        "sess-rollback",
		Name:      "test session",
		AgentID:   "agent-1",
		CreatedBy: "alice",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	base := time.Now().UTC()
	contents := []struct {
		role    protocol.Role
		content string
	}{
		{protocol.RoleUser, "original question"},
		{protocol.RoleAssistant, "stale answer"},
		{protocol.RoleUser, "stale followup"},
	}
	var target protocol.Message
	for i, c := range contents {
		m := protocol.NewMessage(sess.ID, c.role, c.content, "alice")
		m.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := s.AppendMessage(ctx, &m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if i == 0 {
			target = m
		}
	}

	// Triggers are schema objects, so installing one through a separate
	// connection makes the store's own delete statement fail inside the
	// edit transaction, after the rewrite has already run.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open second connection: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx,
		`CREATE TRIGGER block_deletes BEFORE DELETE ON chat_messages
		 BEGIN SELECT RAISE(ABORT, 'delete blocked'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := s.EditAndTruncate(ctx, target.ID, "edited question"); err == nil {
		t.Fatal("expected EditAndTruncate to fail while deletes are blocked")
	}

	if _, err := db.ExecContext(ctx, `DROP TRIGGER block_deletes`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}

	got, err := s.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(got) != len(contents) {
		t.Fatalf("got %d messages, want %d (pre-edit state restored)", len(got), len(contents))
	}
	for i, c := range contents {
		if got[i].Content != c.content {
			t.Errorf("message %d: got %q, want %q", i, got[i].Content, c.content)
		}
		if got[i].Role != c.role {
			t.Errorf("message %d: got role %q, want %q", i, got[i].Role, c.role)
		}
	}
}
