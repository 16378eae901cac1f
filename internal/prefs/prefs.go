// Package prefs is the client-local key-value store for operator preferences.
// Values are JSON-encoded and kept in a single SQLite table.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Keys persisted by the client.
const (
	KeySelectedStates  = "selected_states"
	KeyFilterCollapsed = "filter_collapsed"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("preference not found")

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Store is a SQLite-backed preference store.
type Store struct {
	db *sql.DB

	get    *sql.Stmt
	put    *sql.Stmt
	delete *sql.Stmt
}

// Open opens (creating if needed) the store at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create preference directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preference database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize preference schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) prepareStatements() error {
	var err error

	s.get, err = s.db.Prepare(`SELECT value FROM preferences WHERE key = ?`)
	if err != nil {
		return err
	}

	s.put, err = s.db.Prepare(`
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	s.delete, err = s.db.Prepare(`DELETE FROM preferences WHERE key = ?`)
	return err
}

// Get decodes the value stored under key into out.
func (s *Store) Get(ctx context.Context, key string, out interface{}) error {
	var raw string
	err := s.get.QueryRowContext(ctx, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode preference %s: %w", key, err)
	}
	return nil
}

// Put JSON-encodes value and stores it under key.
func (s *Store) Put(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode preference %s: %w", key, err)
	}
	if _, err := s.put.ExecContext(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.delete.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to delete preference %s: %w", key, err)
	}
	return nil
}

// SelectedStates returns the persisted selection and whether one was stored.
func (s *Store) SelectedStates(ctx context.Context) ([]string, bool, error) {
	var selected []string
	err := s.Get(ctx, KeySelectedStates, &selected)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if selected == nil {
		selected = []string{}
	}
	return selected, true, nil
}

// SaveSelectedStates persists the selection.
func (s *Store) SaveSelectedStates(ctx context.Context, selected []string) error {
	if selected == nil {
		selected = []string{}
	}
	return s.Put(ctx, KeySelectedStates, selected)
}

// FilterCollapsed returns the persisted collapsed flag, false when unset.
func (s *Store) FilterCollapsed(ctx context.Context) (bool, error) {
	var collapsed bool
	err := s.Get(ctx, KeyFilterCollapsed, &collapsed)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return collapsed, err
}

// SaveFilterCollapsed persists the collapsed flag.
func (s *Store) SaveFilterCollapsed(ctx context.Context, collapsed bool) error {
	return s.Put(ctx, KeyFilterCollapsed, collapsed)
}

// Close closes the prepared statements and the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.get, s.put, s.delete} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
