// Package store provides SQLite persistence for sessions, the append-only
// action log, the api-call log, and plans. Writes are serialized through a
// single mutex; reads run concurrently. Action appends republish on the
// in-process event bus after the insert commits, so subscribers never see
// an action that was not persisted.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
)

// DB wraps the SQLite handle shared by all stores.
type DB struct {
	db *sql.DB

	// writeMu serializes writes. SQLite allows one writer at a time;
	// funneling writes through this mutex avoids SQLITE_BUSY churn.
	writeMu sync.Mutex
}

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and matches
	// the serialized-writer model.
	db.SetMaxOpenConns(1)

	// WAL lets readers run during the single writer's transactions; FK
	// enforcement keeps every log row attached to a real session.
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_dir TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			issue_number INTEGER,
			issue_title TEXT,
			branch_name TEXT,
			stash_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS action_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(id),
			action_type TEXT NOT NULL,
			data_json TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_action_log_session ON action_log(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_action_log_type ON action_log(session_id, action_type)`,
		`CREATE TABLE IF NOT EXISTS api_call_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(id),
			call_type TEXT NOT NULL,
			model TEXT NOT NULL,
			input_hash TEXT,
			latency_ms INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_estimate REAL NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_call_log_session ON api_call_log(session_id)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(id),
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS phases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id INTEGER NOT NULL REFERENCES plans(id),
			number INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			hint TEXT,
			status TEXT NOT NULL,
			tasks_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_phases_plan ON phases(plan_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *DB) Close() error {
	return s.db.Close()
}
