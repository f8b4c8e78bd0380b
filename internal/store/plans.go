package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paigeai/paige/pkg/models"
)

// PlanStore persists coaching plans and their phases.
type PlanStore struct {
	db *DB
}

// NewPlanStore creates a plan store over the shared database.
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

// Save persists a plan and its phases for a session, replacing any prior
// plan for that session.
func (s *PlanStore) Save(ctx context.Context, sessionID int64, plan *models.Plan) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM phases WHERE plan_id IN (SELECT id FROM plans WHERE session_id = ?)`,
		sessionID); err != nil {
		return fmt.Errorf("clear phases: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear plan: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO plans (session_id, title, summary, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, plan.Title, plan.Summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	planID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, phase := range plan.Phases {
		tasksJSON, err := json.Marshal(phase.Tasks)
		if err != nil {
			return fmt.Errorf("encode tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO phases (plan_id, number, title, description, hint, status, tasks_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			planID, phase.Number, phase.Title, phase.Description,
			nullEmpty(phase.Hint), string(phase.Status), string(tasksJSON)); err != nil {
			return fmt.Errorf("insert phase: %w", err)
		}
	}

	return tx.Commit()
}

// BySession returns the plan for a session, or ErrNotFound.
func (s *PlanStore) BySession(ctx context.Context, sessionID int64) (*models.Plan, error) {
	var (
		planID int64
		plan   models.Plan
	)
	err := s.db.db.QueryRowContext(ctx,
		`SELECT id, title, summary FROM plans WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID).Scan(&planID, &plan.Title, &plan.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT number, title, description, hint, status, tasks_json
		FROM phases WHERE plan_id = ? ORDER BY number`, planID)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			phase     models.PlanPhase
			hint      sql.NullString
			status    string
			tasksJSON sql.NullString
		)
		if err := rows.Scan(&phase.Number, &phase.Title, &phase.Description, &hint, &status, &tasksJSON); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		phase.Hint = hint.String
		phase.Status = models.PhaseStatus(status)
		if tasksJSON.Valid && tasksJSON.String != "" {
			if err := json.Unmarshal([]byte(tasksJSON.String), &phase.Tasks); err != nil {
				return nil, fmt.Errorf("decode tasks: %w", err)
			}
		}
		plan.Phases = append(plan.Phases, phase)
	}
	return &plan, rows.Err()
}

// SetPhaseStatus updates one phase's status within a session's plan.
// Phase status only moves toward complete; a reset requires saving a new
// plan.
func (s *PlanStore) SetPhaseStatus(ctx context.Context, sessionID int64, number int, status models.PhaseStatus) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	res, err := s.db.db.ExecContext(ctx, `
		UPDATE phases SET status = ?
		WHERE number = ? AND plan_id IN (SELECT id FROM plans WHERE session_id = ?)`,
		string(status), number, sessionID)
	if err != nil {
		return fmt.Errorf("update phase status: %w", err)
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
