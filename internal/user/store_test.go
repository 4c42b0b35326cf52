package user

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestCreateAndLookup(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("Alice@Example.com", "bcrypt-hash")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Error("expected non-empty user id")
	}
	if created.Email != "alice@example.com" {
		t.Errorf("Email = %q, want lowercased", created.Email)
	}

	byEmail, err := store.GetByEmail("alice@example.COM")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if byEmail.ID != created.ID {
		t.Errorf("GetByEmail().ID = %q, want %q", byEmail.ID, created.ID)
	}

	byID, err := store.GetByID(created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.PasswordHash != "bcrypt-hash" {
		t.Errorf("PasswordHash = %q", byID.PasswordHash)
	}
}

func TestDuplicateEmail(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create("bob@example.com", "h1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("bob@example.com", "h2"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Create() duplicate error = %v, want ErrEmailTaken", err)
	}
}

func TestNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetByEmail("nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByID("missing-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}
