// Package buffers holds the in-memory unsaved file contents reported by the
// editor, tracks dirty state, and feeds the observer with edit telemetry:
// significant-change actions on large jumps and periodic per-path summaries.
package buffers

import (
	"context"
	"sync"
	"time"

	"github.com/paigeai/paige/pkg/models"
)

// Thresholds for the significant-change detector. A change is significant
// when content first appears, when the absolute delta exceeds
// significantAbsDelta characters, or when the relative delta exceeds
// significantRelDelta of the last logged size.
const (
	significantAbsDelta = 500
	significantRelDelta = 0.5
)

// ActionLogger is the subset of the action store the cache needs.
type ActionLogger interface {
	Log(ctx context.Context, sessionID int64, actionType string, data map[string]any) error
}

// entry pairs one buffer with its detector state. Each entry has its own
// lock so concurrent edits to different files never contend.
type entry struct {
	mu sync.Mutex

	buffer models.Buffer

	// Detector state, reset on every significant change and summary flush.
	lastLoggedCharCount   int
	editCountSinceLastLog int
}

// Cache maps workspace-relative paths to unsaved buffer contents. One
// instance exists per process; buffers are cleared on session end.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	actions ActionLogger
	now     func() time.Time
}

// NewCache creates an empty buffer cache logging telemetry through actions.
// actions may be nil, in which case telemetry is not recorded.
func NewCache(actions ActionLogger) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		actions: actions,
		now:     time.Now,
	}
}

func (c *Cache) entryFor(path string) *entry {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		return e
	}
	e = &entry{buffer: models.Buffer{Path: path}}
	c.entries[path] = e
	return e
}

// Update stores new content for a path, marks it dirty, and runs the
// significant-change detector. A buffer_significant_change action is logged
// when the threshold fires; detector state then resets to the new length.
func (c *Cache) Update(ctx context.Context, sessionID int64, path, content string) error {
	e := c.entryFor(path)

	e.mu.Lock()
	e.buffer.Content = content
	e.buffer.Dirty = true
	e.buffer.LastUpdatedAt = c.now()
	e.editCountSinceLastLog++

	newLen := len(content)
	prev := e.lastLoggedCharCount
	significant := isSignificant(prev, newLen)
	if significant {
		e.lastLoggedCharCount = newLen
		e.editCountSinceLastLog = 0
	}
	e.mu.Unlock()

	if significant && c.actions != nil {
		return c.actions.Log(ctx, sessionID, models.ActionBufferSignificant, map[string]any{
			"path":              path,
			"previousCharCount": prev,
			"newCharCount":      newLen,
			"delta":             newLen - prev,
		})
	}
	return nil
}

func isSignificant(prev, newLen int) bool {
	if prev == 0 {
		return newLen > 0
	}
	delta := newLen - prev
	if delta < 0 {
		delta = -delta
	}
	if delta > significantAbsDelta {
		return true
	}
	return float64(delta)/float64(prev) > significantRelDelta
}

// Get returns a copy of the buffer for a path, or false if absent.
func (c *Cache) Get(path string) (models.Buffer, bool) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return models.Buffer{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer, true
}

// MarkSaved clears the dirty flag for a path after a save acknowledgement.
func (c *Cache) MarkSaved(path string) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.buffer.Dirty = false
	e.mu.Unlock()
}

// Clear removes a single path from the cache.
func (c *Cache) Clear(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// ClearAll empties the cache. Called on session end.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// DirtyPaths returns a consistent snapshot of all dirty paths.
func (c *Cache) DirtyPaths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var paths []string
	for path, e := range c.entries {
		e.mu.Lock()
		dirty := e.buffer.Dirty
		e.mu.Unlock()
		if dirty {
			paths = append(paths, path)
		}
	}
	return paths
}

// Paths returns all cached paths, dirty or not.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.entries))
	for path := range c.entries {
		paths = append(paths, path)
	}
	return paths
}

// FlushSummaries emits one buffer_summary action per dirty path and resets
// detector state. Called by the summary scheduler.
func (c *Cache) FlushSummaries(ctx context.Context, sessionID int64) error {
	if c.actions == nil {
		return nil
	}

	for _, path := range c.DirtyPaths() {
		c.mu.RLock()
		e, ok := c.entries[path]
		c.mu.RUnlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		charCount := len(e.buffer.Content)
		editCount := e.editCountSinceLastLog
		charDelta := charCount - e.lastLoggedCharCount
		e.editCountSinceLastLog = 0
		e.lastLoggedCharCount = charCount
		e.mu.Unlock()

		if editCount == 0 && charDelta == 0 {
			continue
		}
		if err := c.actions.Log(ctx, sessionID, models.ActionBufferSummary, map[string]any{
			"path":      path,
			"editCount": editCount,
			"charDelta": charDelta,
			"charCount": charCount,
		}); err != nil {
			return err
		}
	}
	return nil
}
