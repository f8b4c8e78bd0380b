package toolsurface

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/sessions"
	"github.com/paigeai/paige/internal/workspace"
	"github.com/paigeai/paige/pkg/models"
)

type fakeSessions struct {
	mu      sync.Mutex
	started []sessions.StartOptions
	ended   []models.SessionStatus
	active  *models.Session
}

func (f *fakeSessions) Start(_ context.Context, opts sessions.StartOptions) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, opts)
	f.active = &models.Session{ID: 7, ProjectDir: opts.ProjectDir, Status: models.SessionActive}
	return f.active, nil
}

func (f *fakeSessions) End(_ context.Context, reason models.SessionStatus) (*sessions.EndSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, reason)
	f.active = nil
	return &sessions.EndSummary{SessionID: 7, MemoriesAdded: 3, GapsIdentified: 1}, nil
}

func (f *fakeSessions) Active() (*models.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.active != nil
}

type fakeActions struct {
	mu   sync.Mutex
	logs []struct {
		sessionID  int64
		actionType string
		data       map[string]any
	}
}

func (f *fakeActions) Log(_ context.Context, sessionID int64, actionType string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, struct {
		sessionID  int64
		actionType string
		data       map[string]any
	}{sessionID, actionType, data})
	return nil
}

func (f *fakeActions) last() (string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.logs) == 0 {
		return "", nil
	}
	l := f.logs[len(f.logs)-1]
	return l.actionType, l.data
}

type fakePlans struct {
	mu            sync.Mutex
	plan          *models.Plan
	statusErr     error
	statusUpdates []struct {
		sessionID int64
		number    int
		status    models.PhaseStatus
	}
}

func (f *fakePlans) BySession(context.Context, int64) (*models.Plan, error) {
	return f.plan, nil
}

func (f *fakePlans) SetPhaseStatus(_ context.Context, sessionID int64, number int, status models.PhaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusUpdates = append(f.statusUpdates, struct {
		sessionID int64
		number    int
		status    models.PhaseStatus
	}{sessionID, number, status})
	return nil
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

func (f *fakeBroadcast) last() (string, any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return "", nil
	}
	m := f.msgs[len(f.msgs)-1]
	return m.msgType, m.payload
}

type harness struct {
	registry  *Registry
	sessions  *fakeSessions
	actions   *fakeActions
	plans     *fakePlans
	broadcast *fakeBroadcast
	cache     *buffers.Cache
	ws        *workspace.Workspace
	dir       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		sessions:  &fakeSessions{},
		actions:   &fakeActions{},
		plans:     &fakePlans{plan: &models.Plan{Title: "Fix the bug"}},
		broadcast: &fakeBroadcast{},
		cache:     buffers.NewCache(nil),
		ws:        ws,
		dir:       dir,
	}
	lookup := func() (int64, bool) {
		s, ok := h.sessions.Active()
		if !ok {
			return 0, false
		}
		return s.ID, true
	}
	h.registry = NewRegistry(h.actions, lookup,
		observability.NewLogger(observability.LogConfig{Level: "error"}), nil)

	err = RegisterAll(h.registry, Deps{
		Sessions:  h.sessions,
		Buffers:   h.cache,
		Workspace: ws,
		Plans:     h.plans,
		Actions:   h.actions,
		Broadcast: h.broadcast,
		OpenFiles: func() []string { return []string{"main.go"} },
		HintLevel: func() string { return "medium" },
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) call(t *testing.T, name, args string) any {
	t.Helper()
	result, err := h.registry.Call(context.Background(), name, json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return result
}

func TestToolSetComplete(t *testing.T) {
	h := newHarness(t)

	want := []string{
		"paige_clear_highlights",
		"paige_clear_hints",
		"paige_end_session",
		"paige_get_buffer",
		"paige_get_diff",
		"paige_get_open_files",
		"paige_get_session_state",
		"paige_highlight_lines",
		"paige_hint_files",
		"paige_open_file",
		"paige_show_issue_context",
		"paige_show_message",
		"paige_start_session",
		"paige_update_phase",
	}
	if got := h.registry.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("tool set = %v, want %v", got, want)
	}
	if len(h.registry.Descriptors()) != len(want) {
		t.Errorf("descriptor count = %d", len(h.registry.Descriptors()))
	}
}

func TestRegisterRejectsMutatingNames(t *testing.T) {
	h := newHarness(t)
	handler := func(context.Context, json.RawMessage) (any, error) { return nil, nil }

	bad := []string{
		"paige_write_file",
		"paige_edit_buffer",
		"paige_create_branch",
		"paige_Delete_session",
		"paige_remove_hints",
		"paige_modify_plan",
		"unprefixed_tool",
	}
	for _, name := range bad {
		if err := h.registry.Register(Tool{Name: name, Handler: handler}); err == nil {
			t.Errorf("Register(%q) succeeded, want error", name)
		}
	}
}

func TestSessionLifecycleTools(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, "paige_start_session",
		`{"project_dir": "/tmp/project", "issue_number": 42, "issue_title": "Fix parser"}`)
	m := result.(map[string]any)
	if m["session_id"] != int64(7) {
		t.Errorf("session_id = %v", m["session_id"])
	}
	if len(h.sessions.started) != 1 || h.sessions.started[0].IssueTitle != "Fix parser" {
		t.Errorf("start options = %+v", h.sessions.started)
	}
	if actionType, data := h.actions.last(); actionType != models.ActionMCPToolCall || data["tool"] != "paige_start_session" {
		t.Errorf("action = %s %v", actionType, data)
	}

	result = h.call(t, "paige_end_session", `{}`)
	m = result.(map[string]any)
	if m["success"] != true || m["memories_added"] != 3 {
		t.Errorf("end result = %v", m)
	}
	if len(h.sessions.ended) != 1 || h.sessions.ended[0] != models.SessionCompleted {
		t.Errorf("end reasons = %v", h.sessions.ended)
	}
}

func TestNoActionLoggedWithoutActiveSession(t *testing.T) {
	h := newHarness(t)

	h.call(t, "paige_get_open_files", `{}`)
	if len(h.actions.logs) != 0 {
		t.Errorf("actions logged with no active session: %+v", h.actions.logs)
	}

	// Once a session exists the same call leaves its trace.
	h.call(t, "paige_start_session", `{"project_dir": "/tmp/project"}`)
	h.call(t, "paige_get_open_files", `{}`)
	actionType, data := h.actions.last()
	if actionType != models.ActionMCPToolCall || data["tool"] != "paige_get_open_files" {
		t.Errorf("action = %s %v", actionType, data)
	}
	for _, l := range h.actions.logs {
		if l.sessionID == 0 {
			t.Errorf("action logged against session 0: %+v", l)
		}
	}
}

func TestGetBufferTool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.cache.Update(ctx, 7, "main.go", "package main"); err != nil {
		t.Fatal(err)
	}
	result := h.call(t, "paige_get_buffer", `{"path": "main.go"}`)
	m := result.(map[string]any)
	if m["content"] != "package main" || m["dirty"] != true {
		t.Errorf("buffer = %v", m)
	}

	if result := h.call(t, "paige_get_buffer", `{"path": "absent.go"}`); result != nil {
		t.Errorf("absent buffer = %v, want nil", result)
	}
}

func TestGetDiffTool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	path := filepath.Join(h.dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.cache.Update(ctx, 7, "main.go", "package main\n\nfunc main() {}\n"); err != nil {
		t.Fatal(err)
	}

	result := h.call(t, "paige_get_diff", `{"path": "main.go"}`)
	diff := result.(map[string]any)["diff"].(string)
	if !strings.Contains(diff, "+func main() {}") {
		t.Errorf("diff = %q", diff)
	}
}

func TestSessionStateTool(t *testing.T) {
	h := newHarness(t)

	if _, err := h.registry.Call(context.Background(), "paige_get_session_state", nil); err == nil {
		t.Error("session state without active session succeeded")
	}

	h.call(t, "paige_start_session", `{"project_dir": "/tmp/project"}`)
	result := h.call(t, "paige_get_session_state", `{}`)
	state := result.(map[string]any)
	if state["hint_level"] != "medium" {
		t.Errorf("hint_level = %v", state["hint_level"])
	}
	if plan := state["plan"].(*models.Plan); plan.Title != "Fix the bug" {
		t.Errorf("plan = %+v", plan)
	}
}

func TestUIControlToolsBroadcast(t *testing.T) {
	h := newHarness(t)

	h.call(t, "paige_show_message", `{"message": "Nice refactor", "type": "success"}`)
	msgType, payload := h.broadcast.last()
	if msgType != "coaching:message" {
		t.Errorf("msgType = %s", msgType)
	}
	if payload.(map[string]any)["source"] != "agent" {
		t.Errorf("payload = %v", payload)
	}

	h.call(t, "paige_hint_files", `{"paths": ["a.go"], "style": "subtle"}`)
	if msgType, _ = h.broadcast.last(); msgType != "explorer:hint_files" {
		t.Errorf("msgType = %s", msgType)
	}

	h.call(t, "paige_start_session", `{"project_dir": "/tmp/project"}`)
	h.call(t, "paige_update_phase", `{"phase": 2, "status": "complete"}`)
	if msgType, _ = h.broadcast.last(); msgType != "phase:transition" {
		t.Errorf("msgType = %s", msgType)
	}
}

func TestUpdatePhasePersistsAndLogsCompletion(t *testing.T) {
	h := newHarness(t)

	if _, err := h.registry.Call(context.Background(), "paige_update_phase",
		json.RawMessage(`{"phase": 1, "status": "complete"}`)); err == nil {
		t.Error("update_phase without active session succeeded")
	}
	if len(h.plans.statusUpdates) != 0 {
		t.Fatalf("status persisted without session: %+v", h.plans.statusUpdates)
	}

	h.call(t, "paige_start_session", `{"project_dir": "/tmp/project"}`)

	h.call(t, "paige_update_phase", `{"phase": 1, "status": "active"}`)
	if got := len(h.plans.statusUpdates); got != 1 {
		t.Fatalf("status updates = %d, want 1", got)
	}
	for _, l := range h.actions.logs {
		if l.actionType == models.ActionPhaseCompleted {
			t.Error("phase_completed logged for an active transition")
		}
	}

	h.call(t, "paige_update_phase", `{"phase": 2, "status": "complete"}`)
	update := h.plans.statusUpdates[len(h.plans.statusUpdates)-1]
	if update.sessionID != 7 || update.number != 2 || update.status != models.PhaseComplete {
		t.Errorf("persisted update = %+v", update)
	}

	var completed []map[string]any
	for _, l := range h.actions.logs {
		if l.actionType == models.ActionPhaseCompleted {
			completed = append(completed, l.data)
		}
	}
	if len(completed) != 1 {
		t.Fatalf("phase_completed logs = %d, want 1", len(completed))
	}
	if completed[0]["phase"] != 2 {
		t.Errorf("phase_completed data = %v", completed[0])
	}
}

func TestSchemaValidationRejectsBadArgs(t *testing.T) {
	h := newHarness(t)
	h.call(t, "paige_start_session", `{"project_dir": "/tmp/project"}`)

	// Missing required path.
	if _, err := h.registry.Call(context.Background(), "paige_get_buffer", json.RawMessage(`{}`)); err == nil {
		t.Error("missing required argument accepted")
	}
	// Enum violation.
	if _, err := h.registry.Call(context.Background(), "paige_hint_files",
		json.RawMessage(`{"paths": ["a.go"], "style": "blinking"}`)); err == nil {
		t.Error("enum violation accepted")
	}
	if actionType, data := h.actions.last(); actionType != models.ActionMCPToolCall || data["status"] != "error" {
		t.Errorf("failed call not logged: %s %v", actionType, data)
	}
}

func TestServerRoundTrip(t *testing.T) {
	h := newHarness(t)
	var out bytes.Buffer
	server := NewServer(h.registry, &out,
		observability.NewLogger(observability.LogConfig{Level: "error"}), "test")

	input := strings.Join([]string{
		`{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`,
		`{"jsonrpc": "2.0", "method": "notifications/initialized"}`,
		`{"jsonrpc": "2.0", "id": 2, "method": "tools/list"}`,
		`{"jsonrpc": "2.0", "id": 3, "method": "tools/call", "params": {"name": "paige_get_open_files", "arguments": {}}}`,
		`{"jsonrpc": "2.0", "id": 4, "method": "tools/call", "params": {"name": "paige_nonexistent"}}`,
		`{"jsonrpc": "2.0", "id": 5, "method": "no/such_method"}`,
		`not json`,
	}, "\n") + "\n"

	if err := server.Serve(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatal(err)
	}

	var responses []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var resp map[string]any
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	// initialize, list, call, tool-not-found, method-not-found, parse error.
	if len(responses) != 6 {
		t.Fatalf("response count = %d", len(responses))
	}

	init := responses[0]["result"].(map[string]any)
	if init["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v", init["protocolVersion"])
	}

	tools := responses[1]["result"].(map[string]any)["tools"].([]any)
	if len(tools) != 14 {
		t.Errorf("tools/list returned %d tools", len(tools))
	}

	callResult := responses[2]["result"].(map[string]any)
	content := callResult["content"].([]any)[0].(map[string]any)
	if !strings.Contains(content["text"].(string), "main.go") {
		t.Errorf("call content = %v", content)
	}

	if code := responses[3]["error"].(map[string]any)["code"].(float64); code != errCodeToolNotFound {
		t.Errorf("unknown tool code = %v", code)
	}
	if code := responses[4]["error"].(map[string]any)["code"].(float64); code != errCodeMethodNotFound {
		t.Errorf("unknown method code = %v", code)
	}
	if code := responses[5]["error"].(map[string]any)["code"].(float64); code != errCodeParseError {
		t.Errorf("parse error code = %v", code)
	}
}
