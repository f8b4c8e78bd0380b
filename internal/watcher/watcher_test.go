package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/workspace"
)

type captureBroadcaster struct {
	mu   sync.Mutex
	msgs []string
	hit  chan struct{}
}

func (c *captureBroadcaster) Broadcast(msgType string, _ any) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msgType)
	c.mu.Unlock()
	select {
	case c.hit <- struct{}{}:
	default:
	}
}

func TestTreeUpdateOnFileCreate(t *testing.T) {
	dir := t.TempDir()
	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	capture := &captureBroadcaster{hit: make(chan struct{}, 1)}
	w := New(ws, capture, observability.NewLogger(observability.LogConfig{Level: "error"}))
	w.debounce = 20 * time.Millisecond

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "fresh.go"), []byte("package x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-capture.hit:
	case <-time.After(3 * time.Second):
		t.Fatal("no broadcast after file creation")
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if capture.msgs[0] != hub.MsgFSTreeUpdate {
		t.Errorf("broadcast type = %q, want fs:tree_update", capture.msgs[0])
	}
}

func TestIgnoredPaths(t *testing.T) {
	dir := t.TempDir()
	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	w := New(ws, &captureBroadcaster{hit: make(chan struct{}, 1)}, observability.NewLogger(observability.LogConfig{Level: "error"}))

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, ".git", "HEAD"), true},
		{filepath.Join(dir, "node_modules", "pkg"), true},
		{filepath.Join(dir, "src", "main.go"), false},
		{dir, false},
	}
	for _, tt := range tests {
		if got := w.ignored(tt.path); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDoubleStartAndClose(t *testing.T) {
	dir := t.TempDir()
	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	w := New(ws, &captureBroadcaster{hit: make(chan struct{}, 1)}, observability.NewLogger(observability.LogConfig{Level: "error"}))

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
