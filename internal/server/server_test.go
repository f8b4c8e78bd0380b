package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/coaching"
	"github.com/paigeai/paige/internal/config"
	"github.com/paigeai/paige/internal/events"
	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/memory"
	"github.com/paigeai/paige/internal/model"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/review"
	"github.com/paigeai/paige/internal/sessions"
	"github.com/paigeai/paige/internal/store"
	"github.com/paigeai/paige/internal/workspace"
	"github.com/paigeai/paige/pkg/models"
)

// fakeHub records broadcasts and lets tests dispatch inbound messages
// straight to the registered handlers.
type fakeHub struct {
	mu       sync.Mutex
	handlers map[string][]hub.Handler
	msgs     []struct {
		msgType string
		payload any
	}
}

func newFakeHub() *fakeHub {
	return &fakeHub{handlers: make(map[string][]hub.Handler)}
}

func (f *fakeHub) ServeHTTP(http.ResponseWriter, *http.Request) {}

func (f *fakeHub) On(msgType string, fn hub.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[msgType] = append(f.handlers[msgType], fn)
	return func() {}
}

func (f *fakeHub) Broadcast(msgType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, struct {
		msgType string
		payload any
	}{msgType, payload})
}

func (f *fakeHub) dispatch(t *testing.T, msgType, payload string) {
	t.Helper()
	f.mu.Lock()
	handlers := append([]hub.Handler(nil), f.handlers[msgType]...)
	f.mu.Unlock()
	if len(handlers) == 0 {
		t.Fatalf("no handler registered for %s", msgType)
	}
	for _, fn := range handlers {
		_ = fn(context.Background(), hub.Envelope{Type: msgType, Payload: json.RawMessage(payload)})
	}
}

func (f *fakeHub) broadcastsOf(msgType string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, m := range f.msgs {
		if m.msgType == msgType {
			out = append(out, m.payload)
		}
	}
	return out
}

type fakeObserver struct{}

func (fakeObserver) Start(context.Context) {}
func (fakeObserver) Stop()                 {}
func (fakeObserver) SetMuted(bool)         {}

type staticProvider struct{ text string }

func (p staticProvider) Complete(context.Context, model.CompletionRequest) (*model.Completion, error) {
	return &model.Completion{
		Blocks:     []model.Block{model.TextBlock(p.text)},
		StopReason: "end_turn",
	}, nil
}

type fixture struct {
	server   *Server
	fakeHub  *fakeHub
	registry *sessions.Registry
	actions  *store.ActionStore
	cache    *buffers.Cache
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	bus := events.NewBus()
	actions := store.NewActionStore(db, bus)
	cache := buffers.NewCache(actions)
	sessionStore := store.NewSessionStore(db)

	registry := sessions.NewRegistry(sessions.Options{
		Config:    config.SessionConfig{},
		Store:     sessionStore,
		Actions:   actions,
		Bus:       bus,
		Buffers:   cache,
		Broadcast: newFakeHub(),
		Observers: func(int64) sessions.ObserverHandle { return fakeObserver{} },
		Logger:    logger,
	})

	fh := newFakeHub()
	client := model.NewClient(model.Options{Provider: staticProvider{text: "{}"}, Logger: logger})
	pipeline := coaching.New(coaching.Options{
		Client:    client,
		Plans:     store.NewPlanStore(db),
		Memories:  memory.Noop{},
		Workspace: ws,
		Buffers:   cache,
		Actions:   actions,
		Broadcast: fh,
		Reviewer:  review.NewAgent(client, ws, cache, logger),
		Logger:    logger,
	})

	cfg := config.Default()
	cfg.Server.ProjectDir = dir

	srv := New(Options{
		Config:    cfg,
		Hub:       fh,
		Sessions:  registry,
		Buffers:   cache,
		Workspace: ws,
		Pipeline:  pipeline,
		Actions:   actions,
		Stats:     sessionStore,
		Logger:    logger,
	})

	return &fixture{
		server:   srv,
		fakeHub:  fh,
		registry: registry,
		actions:  actions,
		cache:    cache,
		dir:      dir,
	}
}

func (f *fixture) startSession(t *testing.T) *models.Session {
	t.Helper()
	session, err := f.registry.Start(context.Background(), sessions.StartOptions{ProjectDir: f.dir})
	if err != nil {
		t.Fatal(err)
	}
	return session
}

func (f *fixture) actionsOf(t *testing.T, sessionID int64, actionType string) []store.ActionRow {
	t.Helper()
	rows, err := f.actions.ByType(context.Background(), sessionID, actionType)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestFileOpenBroadcastsContentAndLogs(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)

	if err := os.WriteFile(filepath.Join(f.dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.fakeHub.dispatch(t, hub.MsgFileOpen, `{"path": "main.go"}`)

	contents := f.fakeHub.broadcastsOf(hub.MsgBufferContent)
	if len(contents) != 1 {
		t.Fatalf("buffer:content broadcasts = %d", len(contents))
	}
	payload := contents[0].(map[string]any)
	if payload["content"] != "package main\n" {
		t.Errorf("content = %q", payload["content"])
	}
	if rows := f.actionsOf(t, session.ID, models.ActionFileOpen); len(rows) != 1 {
		t.Errorf("file_open actions = %d", len(rows))
	}

	// Reopening the same tab is a tab switch.
	f.fakeHub.dispatch(t, hub.MsgFileOpen, `{"path": "main.go"}`)
	if rows := f.actionsOf(t, session.ID, models.ActionTabSwitch); len(rows) != 1 {
		t.Errorf("tab_switch actions = %d", len(rows))
	}
}

func TestFileOpenMissingFile(t *testing.T) {
	f := newFixture(t)
	f.startSession(t)

	f.fakeHub.dispatch(t, hub.MsgFileOpen, `{"path": "nope.go"}`)
	if len(f.fakeHub.broadcastsOf(hub.MsgErrorFileNotFound)) != 1 {
		t.Error("error:file_not_found not broadcast")
	}
	if len(f.fakeHub.broadcastsOf(hub.MsgBufferContent)) != 0 {
		t.Error("buffer:content broadcast for missing file")
	}
}

func TestFileOpenEscapingPath(t *testing.T) {
	f := newFixture(t)
	f.startSession(t)

	f.fakeHub.dispatch(t, hub.MsgFileOpen, `{"path": "../../etc/passwd"}`)
	if len(f.fakeHub.broadcastsOf(hub.MsgErrorPermissionDenied)) != 1 {
		t.Error("error:permission_denied not broadcast")
	}
}

func TestBufferUpdateFeedsCache(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)

	f.fakeHub.dispatch(t, hub.MsgBufferUpdate, `{"path": "main.go", "content": "package main"}`)

	buffer, ok := f.cache.Get("main.go")
	if !ok || buffer.Content != "package main" || !buffer.Dirty {
		t.Errorf("buffer = %+v ok=%v", buffer, ok)
	}
	// First content is a significant change.
	if rows := f.actionsOf(t, session.ID, models.ActionBufferSignificant); len(rows) != 1 {
		t.Errorf("significant change actions = %d", len(rows))
	}
}

func TestFileSaveAcksAndMarksClean(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)

	f.fakeHub.dispatch(t, hub.MsgBufferUpdate, `{"path": "main.go", "content": "package main"}`)
	f.fakeHub.dispatch(t, hub.MsgFileSave, `{"path": "main.go"}`)

	if buffer, _ := f.cache.Get("main.go"); buffer.Dirty {
		t.Error("buffer still dirty after save")
	}
	if len(f.fakeHub.broadcastsOf(hub.MsgSaveAck)) != 1 {
		t.Error("save:ack not broadcast")
	}
	if rows := f.actionsOf(t, session.ID, models.ActionFileSave); len(rows) != 1 {
		t.Error("file_save not logged")
	}
}

func TestHintLevelChange(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)

	f.fakeHub.dispatch(t, hub.MsgHintsLevelChange, `{"level": "high"}`)
	if f.registry.HintLevel() != "high" {
		t.Errorf("hint level = %s", f.registry.HintLevel())
	}
	rows := f.actionsOf(t, session.ID, models.ActionHintLevelChange)
	if len(rows) != 1 || rows[0].Data["from"] != sessions.DefaultHintLevel || rows[0].Data["to"] != "high" {
		t.Errorf("hint_level_change = %+v", rows)
	}
}

func TestStatsPeriodBroadcast(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)
	if _, err := f.registry.End(context.Background(), models.SessionCompleted); err != nil {
		t.Fatal(err)
	}
	_ = session

	f.fakeHub.dispatch(t, hub.MsgDashboardStatsPeriod, `{"period": "week"}`)
	broadcasts := f.fakeHub.broadcastsOf(hub.MsgDashboardStats)
	if len(broadcasts) != 1 {
		t.Fatalf("dashboard:stats broadcasts = %d", len(broadcasts))
	}
	payload := broadcasts[0].(map[string]any)
	stats := payload["stats"].(*store.Stats)
	if stats.Started != 1 || stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestIdleTelemetryLogged(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)

	f.fakeHub.dispatch(t, hub.MsgUserIdleStart, `{"since": 1000}`)
	f.fakeHub.dispatch(t, hub.MsgUserIdleEnd, `{}`)
	f.fakeHub.dispatch(t, hub.MsgUserNavigation, `{"view": "dashboard"}`)

	for _, actionType := range []string{models.ActionIdleStart, models.ActionIdleEnd, models.ActionNavigation} {
		if rows := f.actionsOf(t, session.ID, actionType); len(rows) != 1 {
			t.Errorf("%s actions = %d", actionType, len(rows))
		}
	}
}

func TestInitPayloadReflectsActiveSession(t *testing.T) {
	f := newFixture(t)

	payload := f.server.InitPayload()
	if payload["sessionId"] != nil {
		t.Errorf("sessionId = %v, want nil", payload["sessionId"])
	}

	session := f.startSession(t)
	payload = f.server.InitPayload()
	if payload["sessionId"] != session.ID {
		t.Errorf("sessionId = %v, want %d", payload["sessionId"], session.ID)
	}
}
