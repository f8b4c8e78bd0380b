package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paigeai/paige/pkg/models"
)

// SessionStore persists coaching sessions.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store over the shared database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new session in the given status and returns it with its
// assigned monotonic ID.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = models.SessionActive
	}

	res, err := s.db.db.ExecContext(ctx, `
		INSERT INTO sessions (project_dir, status, started_at, issue_number, issue_title, branch_name, stash_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ProjectDir,
		string(session.Status),
		session.StartedAt,
		session.IssueNumber,
		nullEmpty(session.IssueTitle),
		nullEmpty(session.BranchName),
		nullEmpty(session.StashName),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	session.ID = id
	return nil
}

// Get returns a session by ID, or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, project_dir, status, started_at, ended_at, issue_number, issue_title, branch_name, stash_name
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Active returns the active session, or ErrNotFound if none is active.
func (s *SessionStore) Active(ctx context.Context) (*models.Session, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, project_dir, status, started_at, ended_at, issue_number, issue_title, branch_name, stash_name
		FROM sessions WHERE status = ? ORDER BY id DESC LIMIT 1`,
		string(models.SessionActive))
	return scanSession(row)
}

// SetStatus transitions a session to the given status, stamping ended_at
// for terminal states.
func (s *SessionStore) SetStatus(ctx context.Context, id int64, status models.SessionStatus) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	var endedAt any
	if status != models.SessionActive {
		endedAt = time.Now().UTC()
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		string(status), endedAt, id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats summarizes session outcomes over a period.
type Stats struct {
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// StatsSince counts sessions started since the given time by outcome.
func (s *SessionStore) StatsSince(ctx context.Context, since time.Time) (*Stats, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sessions WHERE started_at >= ? GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Started += n
		switch models.SessionStatus(status) {
		case models.SessionCompleted:
			stats.Completed = n
		case models.SessionCancelled:
			stats.Cancelled = n
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session     models.Session
		status      string
		endedAt     sql.NullTime
		issueNumber sql.NullInt64
		issueTitle  sql.NullString
		branchName  sql.NullString
		stashName   sql.NullString
	)
	err := row.Scan(&session.ID, &session.ProjectDir, &status, &session.StartedAt,
		&endedAt, &issueNumber, &issueTitle, &branchName, &stashName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Status = models.SessionStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	if issueNumber.Valid {
		n := int(issueNumber.Int64)
		session.IssueNumber = &n
	}
	session.IssueTitle = issueTitle.String
	session.BranchName = branchName.String
	session.StashName = stashName.String
	return &session, nil
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
