package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/paigeai/paige/pkg/models"
)

const defaultNResults = 10

// SQLiteStore keeps memories and their embeddings in a SQLite file.
// Similarity search scans embeddings and ranks by cosine distance; at the
// scale of per-session reflections a linear scan is fine.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

// OpenSQLite opens (or creates) the memory database at path.
func OpenSQLite(path string, embedder Embedder) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, embedder: embedder}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			session_id INTEGER NOT NULL,
			project TEXT NOT NULL,
			content TEXT NOT NULL,
			importance TEXT,
			tags TEXT,
			embedding BLOB NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
		CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project);
	`)
	if err != nil {
		return fmt.Errorf("init memory schema: %w", err)
	}
	return nil
}

// AddMemories stores items with IDs mem_{sessionID}_{index}, where index
// continues from the session's existing memory count.
func (s *SQLiteStore) AddMemories(ctx context.Context, sessionID int64, project string, items []models.MemoryItem) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var base int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE session_id = ?`, sessionID).Scan(&base); err != nil {
		return nil, fmt.Errorf("count session memories: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memories (id, session_id, project, content, importance, tags, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	ids := make([]string, 0, len(items))
	for i, item := range items {
		id := fmt.Sprintf("mem_%d_%d", sessionID, base+i)

		embedding, err := s.embedder.Embed(ctx, item.Content)
		if err != nil {
			return nil, fmt.Errorf("embed memory: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			id, sessionID, project, item.Content, item.Importance,
			strings.Join(item.Tags, ","), encodeEmbedding(embedding), now); err != nil {
			return nil, fmt.Errorf("insert memory %s: %w", id, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Search embeds the query text and returns the closest memories by cosine
// distance, ascending. A set Project restricts results to that project.
func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]Result, error) {
	n := q.NResults
	if n <= 0 {
		n = defaultNResults
	}

	queryVec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	query := `SELECT id, session_id, project, content, importance, tags, embedding, created_at FROM memories`
	var args []any
	if q.Project != "" {
		query += ` WHERE project = ?`
		args = append(args, q.Project)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			id, project, importance, tags string
			sessionID                     int64
			content                       string
			blob                          []byte
			createdAt                     time.Time
		)
		if err := rows.Scan(&id, &sessionID, &project, &content, &importance, &tags, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}

		results = append(results, Result{
			ID:       id,
			Content:  content,
			Distance: 1 - cosineSimilarity(queryVec, decodeEmbedding(blob)),
			Metadata: map[string]any{
				"session_id": sessionID,
				"project":    project,
				"created_at": createdAt.Format(time.RFC3339),
				"importance": importance,
				"tags":       tags,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
