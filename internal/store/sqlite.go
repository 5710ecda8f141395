// ABOUTME: SQLite-backed audit store using modernc.org/sqlite
// ABOUTME: Provides schema creation and the shared database handle

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists the execution audit trail. Failures writing to it degrade
// to logged warnings at the call sites; they never fail a request.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates an audit store at the given path. The schema is created if it
// doesn't exist, and parent directories are created if needed.
func New(path string, logger *slog.Logger) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("audit store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tool_calls (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			tool        TEXT NOT NULL,
			mode        TEXT NOT NULL,
			status      TEXT NOT NULL,
			error       TEXT,
			started_at  TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,

			CHECK (mode IN ('sync', 'stream')),
			CHECK (status IN ('ok', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_tool_calls_started ON tool_calls(started_at);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);

		CREATE TABLE IF NOT EXISTS auth_events (
			id         TEXT PRIMARY KEY,
			remote     TEXT NOT NULL,
			reason     TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_auth_events_created ON auth_events(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for schema verification in tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullString converts empty strings to NULL for optional columns.
func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
