// Package memory persists cross-session knowledge produced by the
// reflection stage and retrieves it by semantic similarity when later
// sessions start.
package memory

import (
	"context"

	"github.com/paigeai/paige/pkg/models"
)

// Query describes one similarity search.
type Query struct {
	Text     string
	NResults int
	// Project, when set, restricts results to memories written for that
	// project directory.
	Project string
}

// Result is one retrieved memory, ordered by ascending distance.
type Result struct {
	ID       string
	Content  string
	Distance float32
	Metadata map[string]any
}

// Store persists and retrieves session memories.
type Store interface {
	// AddMemories stores items for a session and returns their assigned IDs.
	AddMemories(ctx context.Context, sessionID int64, project string, items []models.MemoryItem) ([]string, error)

	// Search returns up to q.NResults memories by ascending distance.
	Search(ctx context.Context, q Query) ([]Result, error)

	Close() error
}

// Noop is the degraded-mode store used when memory is unavailable. Writes
// vanish and searches return nothing; session flow is otherwise unchanged.
type Noop struct{}

func (Noop) AddMemories(_ context.Context, _ int64, _ string, _ []models.MemoryItem) ([]string, error) {
	return nil, nil
}

func (Noop) Search(_ context.Context, _ Query) ([]Result, error) { return nil, nil }

func (Noop) Close() error { return nil }
