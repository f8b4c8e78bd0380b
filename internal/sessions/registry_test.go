package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/config"
	"github.com/paigeai/paige/internal/events"
	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/store"
	"github.com/paigeai/paige/pkg/models"
)

type fakeObserver struct {
	mu      sync.Mutex
	started int
	stopped int
	muted   []bool
}

func (f *fakeObserver) Start(context.Context) {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
}

func (f *fakeObserver) Stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeObserver) SetMuted(muted bool) {
	f.mu.Lock()
	f.muted = append(f.muted, muted)
	f.mu.Unlock()
}

type fakeReflector struct {
	mu     sync.Mutex
	calls  int
	result ReflectionResult
}

func (f *fakeReflector) Reflect(context.Context, *models.Session) (*ReflectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	result := f.result
	return &result, nil
}

type fakePlanner struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePlanner) Plan(context.Context, *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakePlanner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBroadcast struct {
	mu   sync.Mutex
	msgs []struct {
		msgType string
		payload any
	}
}

func (f *fakeBroadcast) Broadcast(msgType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, struct {
		msgType string
		payload any
	}{msgType, payload})
}

func (f *fakeBroadcast) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.msgType
	}
	return out
}

type fixture struct {
	registry  *Registry
	db        *store.DB
	sessions  *store.SessionStore
	actions   *store.ActionStore
	bus       *events.Bus
	broadcast *fakeBroadcast
	observer  *fakeObserver
	reflector *fakeReflector
	planner   *fakePlanner
	cache     *buffers.Cache
}

func newFixture(t *testing.T, cfg config.SessionConfig) *fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:        db,
		sessions:  store.NewSessionStore(db),
		bus:       events.NewBus(),
		broadcast: &fakeBroadcast{},
		observer:  &fakeObserver{},
		reflector: &fakeReflector{result: ReflectionResult{MemoriesAdded: 2, GapsIdentified: 1}},
		planner:   &fakePlanner{},
	}
	f.actions = store.NewActionStore(db, f.bus)
	f.cache = buffers.NewCache(f.actions)
	f.registry = NewRegistry(Options{
		Config:    cfg,
		Store:     f.sessions,
		Actions:   f.actions,
		Bus:       f.bus,
		Buffers:   f.cache,
		Broadcast: f.broadcast,
		Observers: func(int64) ObserverHandle { return f.observer },
		Planner:   f.planner,
		Reflector: f.reflector,
		Logger:    observability.NewLogger(observability.LogConfig{Level: "error"}),
	})
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSingleActiveSession(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})
	ctx := context.Background()

	session, err := f.registry.Start(ctx, StartOptions{ProjectDir: "/tmp/p"})
	if err != nil {
		t.Fatal(err)
	}
	if session.ID == 0 {
		t.Error("session has no ID")
	}
	if _, err := f.registry.Start(ctx, StartOptions{ProjectDir: "/tmp/q"}); err != ErrSessionAlreadyActive {
		t.Errorf("second Start = %v, want ErrSessionAlreadyActive", err)
	}

	if _, err := f.registry.End(ctx, models.SessionCompleted); err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.Start(ctx, StartOptions{ProjectDir: "/tmp/q"}); err != nil {
		t.Errorf("Start after End = %v", err)
	}
}

func TestStartBroadcastsAndLogsAndPlans(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})
	ctx := context.Background()

	issue := 42
	session, err := f.registry.Start(ctx, StartOptions{
		ProjectDir:  "/tmp/p",
		IssueNumber: &issue,
		IssueTitle:  "Fix flaky test",
	})
	if err != nil {
		t.Fatal(err)
	}

	types := f.broadcast.types()
	if len(types) == 0 || types[0] != hub.MsgSessionStart {
		t.Errorf("broadcasts = %v", types)
	}

	logged, err := f.actions.ByType(ctx, session.ID, models.ActionSessionStart)
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) != 1 || logged[0].Data["issueTitle"] != "Fix flaky test" {
		t.Errorf("session_start actions = %+v", logged)
	}

	waitFor(t, "planner", func() bool { return f.planner.callCount() == 1 })
	if f.observer.started != 1 {
		t.Errorf("observer starts = %d", f.observer.started)
	}
}

func TestEndTeardownOrderAndSummary(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})
	ctx := context.Background()

	session, err := f.registry.Start(ctx, StartOptions{ProjectDir: "/tmp/p"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.cache.Update(ctx, session.ID, "main.go", "package main"); err != nil {
		t.Fatal(err)
	}

	summary, err := f.registry.End(ctx, models.SessionCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if summary.SessionID != session.ID || summary.MemoriesAdded != 2 || summary.GapsIdentified != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if f.observer.stopped != 1 {
		t.Errorf("observer stops = %d", f.observer.stopped)
	}
	if f.reflector.calls != 1 {
		t.Errorf("reflector calls = %d", f.reflector.calls)
	}
	if paths := f.cache.Paths(); len(paths) != 0 {
		t.Errorf("buffers not cleared: %v", paths)
	}

	stored, err := f.sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.SessionCompleted || stored.EndedAt == nil {
		t.Errorf("stored session = %+v", stored)
	}

	types := f.broadcast.types()
	if types[len(types)-1] != hub.MsgSessionEnd {
		t.Errorf("broadcasts = %v", types)
	}
}

// blockingPlanner holds its Plan call open until the context is cancelled,
// standing in for a planning pipeline still talking to the model.
type blockingPlanner struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (p *blockingPlanner) Plan(ctx context.Context, _ *models.Session) error {
	close(p.started)
	<-ctx.Done()
	close(p.cancelled)
	return ctx.Err()
}

func TestEndCancelsInFlightPlanning(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})
	planner := &blockingPlanner{
		started:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	f.registry.planner = planner
	ctx := context.Background()

	if _, err := f.registry.Start(ctx, StartOptions{ProjectDir: "/tmp/p"}); err != nil {
		t.Fatal(err)
	}
	<-planner.started

	if _, err := f.registry.End(ctx, models.SessionCompleted); err != nil {
		t.Fatal(err)
	}

	// End must not return until the pipeline has observed cancellation.
	select {
	case <-planner.cancelled:
	default:
		t.Fatal("End returned with the planning pipeline still running")
	}

	types := f.broadcast.types()
	if types[len(types)-1] != hub.MsgSessionEnd {
		t.Errorf("broadcast after session:end: %v", types)
	}
}

func TestCancelledSessionSkipsReflection(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})
	ctx := context.Background()

	if _, err := f.registry.Start(ctx, StartOptions{ProjectDir: "/tmp/p"}); err != nil {
		t.Fatal(err)
	}
	summary, err := f.registry.End(ctx, models.SessionCancelled)
	if err != nil {
		t.Fatal(err)
	}
	if f.reflector.calls != 0 {
		t.Error("cancelled session ran reflection")
	}
	if summary.MemoriesAdded != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestEndWithoutActiveSession(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})
	if _, err := f.registry.End(context.Background(), models.SessionCompleted); err != ErrNoActiveSession {
		t.Errorf("End = %v, want ErrNoActiveSession", err)
	}
}

func TestIdleTimeoutCancelsSession(t *testing.T) {
	f := newFixture(t, config.SessionConfig{IdleTimeout: 60 * time.Millisecond})
	ctx := context.Background()

	session, err := f.registry.Start(ctx, StartOptions{ProjectDir: "/tmp/p"})
	if err != nil {
		t.Fatal(err)
	}

	// User activity inside the window keeps the session alive.
	time.Sleep(30 * time.Millisecond)
	if err := f.actions.Log(ctx, session.ID, models.ActionFileOpen, nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := f.registry.Active(); !ok {
		t.Fatal("session cancelled despite activity")
	}

	waitFor(t, "idle cancellation", func() bool {
		_, ok := f.registry.Active()
		return !ok
	})
	stored, err := f.sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.SessionCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
}

func TestRestoreAdoptsPersistedSession(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})
	ctx := context.Background()

	persisted := &models.Session{ProjectDir: "/tmp/p", Status: models.SessionActive}
	if err := f.sessions.Create(ctx, persisted); err != nil {
		t.Fatal(err)
	}

	session, err := f.registry.Restore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if session.ID != persisted.ID {
		t.Errorf("restored ID = %d, want %d", session.ID, persisted.ID)
	}
	types := f.broadcast.types()
	if len(types) != 1 || types[0] != hub.MsgSessionRestore {
		t.Errorf("broadcasts = %v", types)
	}
	if f.registry.HintLevel() != DefaultHintLevel {
		t.Errorf("hint level = %s", f.registry.HintLevel())
	}
}

func TestRestoreWithoutPersistedSession(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})
	if _, err := f.registry.Restore(context.Background()); err != ErrNoActiveSession {
		t.Errorf("Restore = %v, want ErrNoActiveSession", err)
	}
}

func TestTabTracking(t *testing.T) {
	f := newFixture(t, config.SessionConfig{})

	f.registry.FileOpened("a.go")
	f.registry.FileOpened("b.go")
	f.registry.FileOpened("a.go") // reopen keeps order
	f.registry.SetCursor("a.go", models.Range{StartLine: 3, StartCol: 1, EndLine: 3, EndCol: 1})

	tabs := f.registry.OpenFiles()
	if len(tabs) != 2 || tabs[0] != "a.go" || tabs[1] != "b.go" {
		t.Errorf("tabs = %v", tabs)
	}

	f.registry.FileClosed("a.go")
	tabs = f.registry.OpenFiles()
	if len(tabs) != 1 || tabs[0] != "b.go" {
		t.Errorf("tabs after close = %v", tabs)
	}
}
