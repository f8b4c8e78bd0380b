// Package watcher mirrors project directory changes to connected UIs.
// Filesystem events are debounced into a single tree rebuild, then the
// fresh tree is broadcast as fs:tree_update.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/workspace"
)

const defaultDebounce = 250 * time.Millisecond

// Broadcaster is the hub subset the watcher needs.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// Watcher observes the project tree for one workspace.
type Watcher struct {
	ws        *workspace.Workspace
	broadcast Broadcaster
	logger    *observability.Logger
	debounce  time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	watched map[string]struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a watcher over the workspace root.
func New(ws *workspace.Workspace, broadcast Broadcaster, logger *observability.Logger) *Watcher {
	return &Watcher{
		ws:        ws,
		broadcast: broadcast,
		logger:    logger,
		debounce:  defaultDebounce,
		watched:   make(map[string]struct{}),
	}
}

// Start begins watching every directory under the workspace root.
// Starting an already started watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.addRecursive(w.ws.Root()); err != nil {
		w.logger.Warn(ctx, "initial watch registration incomplete", "error", err)
	}

	w.wg.Add(1)
	go w.loop(watchCtx)
	return nil
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	var timerMu sync.Mutex
	var timer *time.Timer
	scheduleUpdate := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() { w.publishTree(ctx) })
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = w.addRecursive(event.Name)
					}
				}
				scheduleUpdate()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "file watch error", "error", err)
		}
	}
}

func (w *Watcher) publishTree(ctx context.Context) {
	tree, err := w.ws.Tree()
	if err != nil {
		w.logger.Warn(ctx, "tree rebuild failed", "error", err)
		return
	}
	w.broadcast.Broadcast(hub.MsgFSTreeUpdate, map[string]any{"tree": tree})
}

func (w *Watcher) ignored(path string) bool {
	rel := w.ws.Rel(path)
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == ".git" || part == "node_modules" || strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) && path != root {
			return filepath.SkipDir
		}
		w.addPath(path)
		return nil
	})
}

func (w *Watcher) addPath(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if _, ok := w.watched[path]; ok {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Debug(context.Background(), "watch add failed", "path", path, "error", err)
		return
	}
	w.watched[path] = struct{}{}
}
