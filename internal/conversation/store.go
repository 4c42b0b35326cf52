// Package conversation provides the append-only chat turn log.
//
// A thread is not stored as a first-class row; it exists as the set of
// turns sharing a thread id. The caller's active thread is recovered as
// the thread id of their most recently appended turn.
package conversation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Turn roles. The set is closed.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxContentLength bounds turn content, matching the chat message bound.
const MaxContentLength = 4000

// Turn is one persisted message in a thread. Turns are never updated or
// deleted; the only correction permitted after append is stamping the
// provider-issued thread id onto the turn that triggered thread
// creation (see [Store.AssignThread]).
type Turn struct {
	ID        string
	UserID    string
	ThreadID  string
	Role      string
	Content   string
	ToolCalls string // JSON-encoded invocation records, empty for user turns
	CreatedAt time.Time
}

// Store handles turn persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store on an open database handle.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_user_id ON turns(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_thread_id ON turns(thread_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists a turn. The id and timestamp are assigned here; the
// thread id may be empty when the remote thread does not exist yet.
func (s *Store) Append(t *Turn) error {
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return fmt.Errorf("invalid role %q", t.Role)
	}
	if t.Content == "" {
		return fmt.Errorf("content is required")
	}
	if len(t.Content) > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", MaxContentLength)
	}

	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			t.ID = uuid.New().String()
		} else {
			t.ID = id.String()
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var toolCalls any
	if t.ToolCalls != "" {
		toolCalls = t.ToolCalls
	}

	_, err := s.db.Exec(`
		INSERT INTO turns (id, user_id, thread_id, role, content, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.ThreadID, t.Role, t.Content, toolCalls,
		t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// AssignThread stamps a thread id onto a turn that was appended before
// the remote thread existed. It refuses to overwrite a non-empty thread
// id, preserving append-only semantics for every other field.
func (s *Store) AssignThread(turnID, threadID string) error {
	res, err := s.db.Exec(`
		UPDATE turns SET thread_id = ? WHERE id = ? AND thread_id = ''
	`, threadID, turnID)
	if err != nil {
		return fmt.Errorf("assign thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("turn %s not found or thread already assigned", turnID)
	}
	return nil
}

// LatestThreadID returns the thread id of the user's most recent turn.
// Turns still awaiting thread assignment are skipped. The second return
// is false when the user has no thread yet.
func (s *Store) LatestThreadID(userID string) (string, bool, error) {
	var threadID string
	err := s.db.QueryRow(`
		SELECT thread_id FROM turns
		WHERE user_id = ? AND thread_id != ''
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, userID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query latest thread: %w", err)
	}
	return threadID, true, nil
}

// History returns the user's most recent turns, newest first, capped at
// limit (default 50 when limit <= 0).
func (s *Store) History(userID string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, thread_id, role, content, COALESCE(tool_calls, ''), created_at
		FROM turns WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.UserID, &t.ThreadID, &t.Role, &t.Content, &t.ToolCalls, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}
