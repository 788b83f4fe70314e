package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-backed store at the given path, initializing
// the schema if needed.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers during a turn.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		cht_id TEXT PRIMARY KEY,
		cht_name TEXT NOT NULL,
		cht_agt_id TEXT NOT NULL,
		created_by TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		msg_id TEXT PRIMARY KEY,
		msg_cht_id TEXT NOT NULL REFERENCES chat_sessions(cht_id) ON DELETE CASCADE,
		msg_role TEXT NOT NULL CHECK (msg_role IN ('system', 'user', 'assistant', 'tool_input', 'tool_response')),
		msg_content TEXT NOT NULL,
		msg_author TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(msg_cht_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	query := `
	INSERT INTO chat_sessions (cht_id, cht_name, cht_agt_id, created_by, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.Name, sess.AgentID, sess.CreatedBy,
		sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
	SELECT cht_id, cht_name, cht_agt_id, created_by, created_at, updated_at
	FROM chat_sessions WHERE cht_id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var sess Session
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &sess.Name, &sess.AgentID, &sess.CreatedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	sess.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, agentID string, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
	SELECT cht_id, cht_name, cht_agt_id, created_by, created_at, updated_at
	FROM chat_sessions`
	args := []any{}
	if agentID != "" {
		query += ` WHERE cht_agt_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var createdAt, updatedAt int64
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.AgentID, &sess.CreatedBy, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.CreatedAt = time.Unix(0, createdAt).UTC()
		sess.UpdatedAt = time.Unix(0, updatedAt).UTC()
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) RenameSession(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET cht_name = ?, updated_at = ? WHERE cht_id = ?`,
		name, time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return requireRow(result, id)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	// Cascade handled by the foreign key; the explicit delete keeps the
	// behavior when foreign_keys is off on an inherited connection.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE msg_cht_id = ?`, id); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE cht_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := requireRow(result, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *protocol.Message) error {
	if !m.Role.IsValid() {
		return fmt.Errorf("append message: invalid role %q", m.Role)
	}

	query := `
	INSERT INTO chat_messages (msg_id, msg_cht_id, msg_role, msg_content, msg_author, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.SessionID, string(m.Role), m.Content, m.Author, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*protocol.Message, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT msg_id, msg_cht_id, msg_role, msg_content, msg_author, created_at
	FROM chat_messages WHERE msg_id = ?`, id)

	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT msg_id, msg_cht_id, msg_role, msg_content, msg_author, created_at
	FROM chat_messages WHERE msg_cht_id = ?
	ORDER BY created_at, msg_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []protocol.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET msg_content = ? WHERE msg_id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	return requireRow(result, id)
}

func (s *SQLiteStore) EditAndTruncate(ctx context.Context, messageID, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin edit: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT msg_cht_id, msg_role, created_at FROM chat_messages WHERE msg_id = ?`, messageID)

	var sessionID, role string
	var createdAt int64
	if err := row.Scan(&sessionID, &role, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("message %q: %w", messageID, ErrNotFound)
		}
		return fmt.Errorf("scan message row: %w", err)
	}
	if role != string(protocol.RoleUser) {
		return fmt.Errorf("edit message %q: only user messages can be edited", messageID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_messages SET msg_content = ?, msg_role = ? WHERE msg_id = ?`,
		content, string(protocol.RoleUser), messageID); err != nil {
		return fmt.Errorf("rewrite message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE msg_cht_id = ? AND created_at > ?`,
		sessionID, createdAt); err != nil {
		return fmt.Errorf("truncate later messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE cht_id = ?`,
		time.Now().UnixNano(), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMessage(scan func(dest ...any) error) (*protocol.Message, error) {
	var m protocol.Message
	var role string
	var createdAt int64
	if err := scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Author, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseRole(role)
	if err != nil {
		return nil, err
	}
	m.Role = parsed
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return &m, nil
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return nil
}
