// Package sessions owns the coaching-session lifecycle. At most one session
// is active per process; the registry enforces that invariant, runs the
// fixed teardown sequence on end, and cancels idle sessions.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/config"
	"github.com/paigeai/paige/internal/events"
	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/store"
	"github.com/paigeai/paige/pkg/models"
)

var (
	// ErrSessionAlreadyActive is returned by Start while a session is live.
	ErrSessionAlreadyActive = errors.New("a session is already active")

	// ErrNoActiveSession is returned by operations that need a live session.
	ErrNoActiveSession = errors.New("no active session")
)

// DefaultHintLevel is the hint level a fresh session starts at.
const DefaultHintLevel = "medium"

// StartOptions parameterize a new session.
type StartOptions struct {
	ProjectDir  string
	IssueNumber *int
	IssueTitle  string
}

// EndSummary reports what session teardown produced.
type EndSummary struct {
	SessionID          int64 `json:"sessionId"`
	MemoriesAdded      int   `json:"memoriesAdded"`
	GapsIdentified     int   `json:"gapsIdentified"`
	KatasGenerated     int   `json:"katasGenerated"`
	AssessmentsUpdated int   `json:"assessmentsUpdated"`
}

// ReflectionResult is what the reflection stage extracted from a finished
// session.
type ReflectionResult struct {
	MemoriesAdded      int
	GapsIdentified     int
	KatasGenerated     int
	AssessmentsUpdated int
}

// Reflector runs the post-session reflection stage.
type Reflector interface {
	Reflect(ctx context.Context, session *models.Session) (*ReflectionResult, error)
}

// Planner produces the coaching plan for a freshly started session. It is
// responsible for its own progress broadcasts.
type Planner interface {
	Plan(ctx context.Context, session *models.Session) error
}

// ObserverHandle is the per-session observer lifecycle the registry drives.
type ObserverHandle interface {
	Start(ctx context.Context)
	Stop()
	SetMuted(muted bool)
}

// ObserverFactory builds an observer bound to one session.
type ObserverFactory func(sessionID int64) ObserverHandle

// Broadcaster is the hub subset the registry needs.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// ActionLogger records lifecycle actions.
type ActionLogger interface {
	Log(ctx context.Context, sessionID int64, actionType string, data map[string]any) error
}

// Options wires a registry to its collaborators. Planner and Reflector may
// be nil when model-backed features are disabled.
type Options struct {
	Config    config.SessionConfig
	Store     *store.SessionStore
	Actions   ActionLogger
	Bus       *events.Bus
	Buffers   *buffers.Cache
	Broadcast Broadcaster
	Observers ObserverFactory
	Planner   Planner
	Reflector Reflector
	Logger    *observability.Logger
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Registry manages the single active session.
type Registry struct {
	cfg       config.SessionConfig
	store     *store.SessionStore
	actions   ActionLogger
	bus       *events.Bus
	buffers   *buffers.Cache
	broadcast Broadcaster
	observers ObserverFactory
	planner   Planner
	reflector Reflector
	logger    *observability.Logger
	now       func() time.Time

	mu         sync.Mutex
	active     *models.Session
	observer   ObserverHandle
	idle       *idleWatch
	planCancel context.CancelFunc
	planDone   chan struct{}
	ui         uiState
}

// planDrainTimeout bounds how long End waits for an in-flight planning
// pipeline to notice cancellation.
const planDrainTimeout = 5 * time.Second

// uiState is the per-session editor state replayed on restore.
type uiState struct {
	hintLevel string
	tabs      []string
	cursors   map[string]models.Range
	scrolls   map[string]int
}

func newUIState() uiState {
	return uiState{
		hintLevel: DefaultHintLevel,
		cursors:   make(map[string]models.Range),
		scrolls:   make(map[string]int),
	}
}

// NewRegistry creates a registry with no active session.
func NewRegistry(opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		cfg:       opts.Config,
		store:     opts.Store,
		actions:   opts.Actions,
		bus:       opts.Bus,
		buffers:   opts.Buffers,
		broadcast: opts.Broadcast,
		observers: opts.Observers,
		planner:   opts.Planner,
		reflector: opts.Reflector,
		logger:    opts.Logger,
		now:       now,
		ui:        newUIState(),
	}
}

// Active returns the active session, if any.
func (r *Registry) Active() (*models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, false
	}
	copied := *r.active
	return &copied, true
}

// ActiveID returns the active session's ID for callers that only key by it.
func (r *Registry) ActiveID() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return 0, false
	}
	return r.active.ID, true
}

// Start creates a new session, begins observing, arms the idle timeout, and
// kicks off planning. Fails with ErrSessionAlreadyActive when one is live.
func (r *Registry) Start(ctx context.Context, opts StartOptions) (*models.Session, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrSessionAlreadyActive
	}

	session := &models.Session{
		ProjectDir:  opts.ProjectDir,
		Status:      models.SessionActive,
		StartedAt:   r.now().UTC(),
		IssueNumber: opts.IssueNumber,
		IssueTitle:  opts.IssueTitle,
	}
	if err := r.store.Create(ctx, session); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	r.active = session
	r.ui = newUIState()
	r.observer = r.observers(session.ID)
	r.observer.Start(context.WithoutCancel(ctx))
	r.idle = r.armIdleWatch(session.ID)

	// Planning outlives the Start call but not the session: End cancels
	// this context and waits on done before tearing the rest down. The
	// handle is registered before the lock drops so an immediate End
	// cannot miss it.
	var (
		planCtx  context.Context
		planDone chan struct{}
	)
	if r.planner != nil {
		var cancel context.CancelFunc
		planCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
		planDone = make(chan struct{})
		r.planCancel = cancel
		r.planDone = planDone
	}
	r.mu.Unlock()

	if err := r.actions.Log(ctx, session.ID, models.ActionSessionStart, map[string]any{
		"projectDir": session.ProjectDir,
		"issueTitle": session.IssueTitle,
	}); err != nil {
		r.logger.Error(ctx, "session_start action log failed", "error", err)
	}

	r.broadcast.Broadcast(hub.MsgSessionStart, map[string]any{
		"sessionId":        session.ID,
		"issueContext":     issueContext(session),
		"phases":           []models.Phase{},
		"initialHintLevel": DefaultHintLevel,
	})

	if r.planner != nil {
		go func() {
			defer close(planDone)
			err := r.planner.Plan(planCtx, session)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error(planCtx, "planning failed", "session_id", session.ID, "error", err)
			}
		}()
	}

	copied := *session
	return &copied, nil
}

// Restore adopts the persisted active session after a process restart.
// Editor state does not survive the restart; the UI gets empty tabs and the
// default hint level.
func (r *Registry) Restore(ctx context.Context) (*models.Session, error) {
	session, err := r.store.Active(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrSessionAlreadyActive
	}
	r.active = session
	r.ui = newUIState()
	r.observer = r.observers(session.ID)
	r.observer.Start(context.WithoutCancel(ctx))
	r.idle = r.armIdleWatch(session.ID)
	r.mu.Unlock()

	r.broadcast.Broadcast(hub.MsgSessionRestore, map[string]any{
		"sessionId":    session.ID,
		"issueContext": issueContext(session),
		"tabs":         []string{},
		"cursors":      map[string]models.Range{},
		"scrolls":      map[string]int{},
		"hintLevel":    DefaultHintLevel,
	})

	copied := *session
	return &copied, nil
}

// End tears the active session down in a fixed order: observer, idle watch,
// planning drain, reflection, buffers, broadcast, action log, store. The
// reason becomes the session's terminal status.
func (r *Registry) End(ctx context.Context, reason models.SessionStatus) (*EndSummary, error) {
	r.mu.Lock()
	session := r.active
	observer := r.observer
	idle := r.idle
	planCancel := r.planCancel
	planDone := r.planDone
	r.active = nil
	r.observer = nil
	r.idle = nil
	r.planCancel = nil
	r.planDone = nil
	r.mu.Unlock()

	if session == nil {
		return nil, ErrNoActiveSession
	}

	if observer != nil {
		observer.Stop()
	}
	if idle != nil {
		idle.stop()
	}

	// An in-flight planning pipeline is cancelled and drained so it cannot
	// broadcast after session:end. Partial results are discarded.
	if planCancel != nil {
		planCancel()
		select {
		case <-planDone:
		case <-time.After(planDrainTimeout):
			r.logger.Warn(ctx, "planning drain timed out", "session_id", session.ID)
		}
	}

	summary := &EndSummary{SessionID: session.ID}
	if r.reflector != nil && reason == models.SessionCompleted {
		reflection, err := r.reflector.Reflect(ctx, session)
		if err != nil {
			// Reflection is best effort; teardown continues.
			r.logger.Warn(ctx, "reflection failed", "session_id", session.ID, "error", err)
		} else if reflection != nil {
			summary.MemoriesAdded = reflection.MemoriesAdded
			summary.GapsIdentified = reflection.GapsIdentified
			summary.KatasGenerated = reflection.KatasGenerated
			summary.AssessmentsUpdated = reflection.AssessmentsUpdated
		}
	}

	r.buffers.ClearAll()

	r.broadcast.Broadcast(hub.MsgSessionEnd, map[string]any{
		"sessionId": session.ID,
		"reason":    string(reason),
	})

	if err := r.actions.Log(ctx, session.ID, models.ActionSessionEnd, map[string]any{
		"reason": string(reason),
	}); err != nil {
		r.logger.Error(ctx, "session_end action log failed", "error", err)
	}

	if err := r.store.SetStatus(ctx, session.ID, reason); err != nil {
		return summary, err
	}
	return summary, nil
}

func issueContext(session *models.Session) map[string]any {
	issue := map[string]any{}
	if session.IssueNumber != nil {
		issue["number"] = *session.IssueNumber
	}
	if session.IssueTitle != "" {
		issue["title"] = session.IssueTitle
	}
	return issue
}
