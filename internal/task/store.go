// Package task provides the owner-scoped task store.
//
// Every lookup, update, and delete statement filters conjunctively on
// (task id AND user id). A task that exists but belongs to a different
// user is indistinguishable from one that does not exist; both surface
// as [ErrNotFound], so task ids cannot be enumerated across users.
package task

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a task does not exist or is not owned by
// the requesting user. Callers must not distinguish the two cases.
var ErrNotFound = errors.New("task not found")

// MaxTitleLength bounds task titles.
const MaxTitleLength = 500

// Task is a single todo item owned by one user.
type Task struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store handles task persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store on an open database handle.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new task for a user. New tasks start incomplete.
func (s *Store) Create(userID, title string) (*Task, error) {
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if len(title) > MaxTitleLength {
		return nil, fmt.Errorf("title exceeds %d characters", MaxTitleLength)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO tasks (user_id, title, completed, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
	`, userID, title, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}

	return &Task{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// List returns all tasks owned by a user, oldest first.
func (s *Store) List(userID string) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, completed, created_at, updated_at
		FROM tasks WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Get fetches one task owned by the user.
func (s *Store) Get(userID string, id int64) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, title, completed, created_at, updated_at
		FROM tasks WHERE id = ? AND user_id = ?
	`, id, userID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Update mutates an owned task. Nil fields are left unchanged.
func (s *Store) Update(userID string, id int64, title *string, completed *bool) (*Task, error) {
	t, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	if title != nil {
		if *title == "" {
			return nil, fmt.Errorf("title is required")
		}
		if len(*title) > MaxTitleLength {
			return nil, fmt.Errorf("title exceeds %d characters", MaxTitleLength)
		}
		t.Title = *title
	}
	if completed != nil {
		t.Completed = *completed
	}
	t.UpdatedAt = time.Now().UTC()

	completedInt := 0
	if t.Completed {
		completedInt = 1
	}

	res, err := s.db.Exec(`
		UPDATE tasks SET title = ?, completed = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, t.Title, completedInt, t.UpdatedAt.Format(time.RFC3339Nano), id, userID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return t, nil
}

// Delete removes an owned task. Returns the deleted task so callers can
// name it in confirmations and events.
func (s *Store) Delete(userID string, id int64) (*Task, error) {
	t, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var completed int
	var createdAt, updatedAt string

	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &completed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t.Completed = completed != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}
