package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// APICallRow is one persisted model-call record. Failed calls carry
// LatencyMS == -1 and zero tokens and cost.
type APICallRow struct {
	ID           int64     `json:"id"`
	SessionID    int64     `json:"sessionId"`
	CallType     string    `json:"callType"`
	Model        string    `json:"model"`
	InputHash    string    `json:"inputHash,omitempty"`
	LatencyMS    int64     `json:"latencyMs"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	CostEstimate float64   `json:"costEstimate"`
	CreatedAt    time.Time `json:"createdAt"`
}

// APICallStore is the companion log of classifier and agent calls used for
// cost accounting.
type APICallStore struct {
	db *DB
}

// NewAPICallStore creates an api-call store over the shared database.
func NewAPICallStore(db *DB) *APICallStore {
	return &APICallStore{db: db}
}

// Record inserts a call record.
func (s *APICallStore) Record(ctx context.Context, row *APICallRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	res, err := s.db.db.ExecContext(ctx, `
		INSERT INTO api_call_log (session_id, call_type, model, input_hash, latency_ms, input_tokens, output_tokens, cost_estimate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.CallType, row.Model, nullEmpty(row.InputHash),
		row.LatencyMS, row.InputTokens, row.OutputTokens, row.CostEstimate, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api call: %w", err)
	}
	row.ID, err = res.LastInsertId()
	return err
}

// BySession returns all call records for a session in insertion order.
func (s *APICallStore) BySession(ctx context.Context, sessionID int64) ([]APICallRow, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, session_id, call_type, model, input_hash, latency_ms, input_tokens, output_tokens, cost_estimate, created_at
		FROM api_call_log WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query api calls: %w", err)
	}
	defer rows.Close()

	var result []APICallRow
	for rows.Next() {
		var (
			row  APICallRow
			hash sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.CallType, &row.Model, &hash,
			&row.LatencyMS, &row.InputTokens, &row.OutputTokens, &row.CostEstimate, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api call: %w", err)
		}
		row.InputHash = hash.String
		result = append(result, row)
	}
	return result, rows.Err()
}

// SessionCost returns the total estimated cost for a session.
func (s *APICallStore) SessionCost(ctx context.Context, sessionID int64) (float64, error) {
	var cost float64
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_estimate), 0) FROM api_call_log WHERE session_id = ?`,
		sessionID).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("sum session cost: %w", err)
	}
	return cost, nil
}
