package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paigeai/paige/internal/events"
)

// ActionRow is one persisted action-log entry.
type ActionRow struct {
	ID        int64          `json:"id"`
	SessionID int64          `json:"sessionId"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ActionStore is the append-only action log. Every Log call inserts a row
// and then publishes the action on the bus, in that order, so subscribers
// only ever see committed actions.
type ActionStore struct {
	db  *DB
	bus *events.Bus
}

// NewActionStore creates an action store publishing to the given bus.
// A nil bus is allowed; appends are then persisted without republication.
func NewActionStore(db *DB, bus *events.Bus) *ActionStore {
	return &ActionStore{db: db, bus: bus}
}

// Log appends an action for the session. Persistence errors are fatal to
// the caller's operation; nothing is silently dropped.
func (s *ActionStore) Log(ctx context.Context, sessionID int64, actionType string, data map[string]any) error {
	var dataJSON any
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode action data: %w", err)
		}
		dataJSON = string(encoded)
	}

	createdAt := time.Now().UTC()

	s.db.writeMu.Lock()
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO action_log (session_id, action_type, data_json, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, actionType, dataJSON, createdAt)
	s.db.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}

	s.bus.Publish(events.Action{
		SessionID: sessionID,
		Type:      actionType,
		Data:      data,
		CreatedAt: createdAt,
	})
	return nil
}

// BySession returns all actions for a session in insertion order.
func (s *ActionStore) BySession(ctx context.Context, sessionID int64) ([]ActionRow, error) {
	return s.query(ctx, `
		SELECT id, session_id, action_type, data_json, created_at
		FROM action_log WHERE session_id = ? ORDER BY id`, sessionID)
}

// ByType returns all actions of one type for a session in insertion order.
func (s *ActionStore) ByType(ctx context.Context, sessionID int64, actionType string) ([]ActionRow, error) {
	return s.query(ctx, `
		SELECT id, session_id, action_type, data_json, created_at
		FROM action_log WHERE session_id = ? AND action_type = ? ORDER BY id`,
		sessionID, actionType)
}

// Recent returns up to limit actions for a session, newest first.
func (s *ActionStore) Recent(ctx context.Context, sessionID int64, limit int) ([]ActionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT id, session_id, action_type, data_json, created_at
		FROM action_log WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit)
}

// CountByType returns the number of actions of one type for a session.
func (s *ActionStore) CountByType(ctx context.Context, sessionID int64, actionType string) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_log WHERE session_id = ? AND action_type = ?`,
		sessionID, actionType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

func (s *ActionStore) query(ctx context.Context, q string, args ...any) ([]ActionRow, error) {
	rows, err := s.db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var result []ActionRow
	for rows.Next() {
		var (
			row      ActionRow
			dataJSON sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Type, &dataJSON, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &row.Data); err != nil {
				return nil, fmt.Errorf("decode action data: %w", err)
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
