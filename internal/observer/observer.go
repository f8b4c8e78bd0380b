// Package observer watches the action stream for one session and decides,
// through a cheap classifier call, when the developer could use a nudge.
// Suppression rules keep it quiet: mute, flow state, low confidence, and a
// cooldown between nudges.
package observer

import (
	"context"
	"time"

	"github.com/paigeai/paige/internal/config"
	"github.com/paigeai/paige/internal/events"
	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/store"
	"github.com/paigeai/paige/pkg/models"
)

// State is the observer lifecycle state.
type State int

const (
	Inactive State = iota
	Active
	Muted
	Stopped
)

const recentActionWindow = 30

// Broadcaster is the hub subset the observer needs.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// ActionReader supplies triage context and accepts the observer's own
// telemetry actions.
type ActionReader interface {
	Log(ctx context.Context, sessionID int64, actionType string, data map[string]any) error
	Recent(ctx context.Context, sessionID int64, limit int) ([]store.ActionRow, error)
}

// Observer runs as a single goroutine owning all per-session triage state.
// Control calls (SetMuted, Stop) and bus events funnel into that goroutine,
// so no field below needs a lock.
type Observer struct {
	cfg        config.ObserverConfig
	sessionID  int64
	bus        *events.Bus
	actions    ActionReader
	classifier Classifier
	broadcast  Broadcaster
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	sub     <-chan events.Action
	control chan controlMsg
	results chan triageOutcome
	done    chan struct{}

	state               State
	bufferUpdateCount   int
	explainRequestCount int
	lastNudgeAt         time.Time
	flowRing            []time.Time
	triageInFlight      bool
	triagePending       bool
}

type controlMsg struct {
	setMuted *bool
	stop     bool
	stopped  chan struct{}
}

type triageOutcome struct {
	result *TriageResult
	err    error
}

// Options wires an observer to its collaborators.
type Options struct {
	Config     config.ObserverConfig
	SessionID  int64
	Bus        *events.Bus
	Actions    ActionReader
	Classifier Classifier
	Broadcast  Broadcaster
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// New creates an observer in the Inactive state.
func New(opts Options) *Observer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Observer{
		cfg:        opts.Config,
		sessionID:  opts.SessionID,
		bus:        opts.Bus,
		actions:    opts.Actions,
		classifier: opts.Classifier,
		broadcast:  opts.Broadcast,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        now,
		control:    make(chan controlMsg),
		results:    make(chan triageOutcome, 1),
		done:       make(chan struct{}),
	}
}

// Start subscribes to the action bus and begins observing.
func (o *Observer) Start(ctx context.Context) {
	if o.state != Inactive {
		return
	}
	o.state = Active
	o.sub = o.bus.Subscribe(64)
	go o.loop(ctx)
}

// SetMuted toggles the muted state and broadcasts the new status.
func (o *Observer) SetMuted(muted bool) {
	select {
	case o.control <- controlMsg{setMuted: &muted}:
	case <-o.done:
	}
}

// Stop unsubscribes and halts the loop. Actions arriving afterwards are
// never triaged. Safe to call more than once.
func (o *Observer) Stop() {
	stopped := make(chan struct{})
	select {
	case o.control <- controlMsg{stop: true, stopped: stopped}:
		<-stopped
	case <-o.done:
	}
}

func (o *Observer) loop(ctx context.Context) {
	defer close(o.done)
	defer o.bus.Unsubscribe(o.sub)

	for {
		select {
		case <-ctx.Done():
			o.state = Stopped
			return

		case msg := <-o.control:
			if msg.stop {
				o.state = Stopped
				close(msg.stopped)
				return
			}
			if msg.setMuted != nil {
				if *msg.setMuted {
					o.state = Muted
				} else {
					o.state = Active
				}
				o.broadcast.Broadcast(hub.MsgObserverStatus, map[string]any{
					"active": true,
					"muted":  *msg.setMuted,
				})
			}

		case action, ok := <-o.sub:
			if !ok {
				o.state = Stopped
				return
			}
			o.handleAction(ctx, action)

		case outcome := <-o.results:
			o.triageInFlight = false
			o.handleTriageOutcome(ctx, outcome)
			if o.triagePending && o.state == Active {
				o.triagePending = false
				o.startTriage(ctx)
			}
		}
	}
}

func (o *Observer) handleAction(ctx context.Context, action events.Action) {
	// Actions from other sessions are ignored entirely.
	if action.SessionID != o.sessionID {
		return
	}
	// The observer's own telemetry must not feed back into triggering.
	switch action.Type {
	case models.ActionObserverTriage, models.ActionNudgeSent, models.ActionNudgeSuppressed:
		return
	}

	triggered := o.updateCountersAndTrigger(action.Type)

	if o.state == Muted {
		return
	}

	userInitiated := models.IsUserInitiated(action.Type)
	now := o.now()
	if userInitiated {
		o.flowRing = append(o.flowRing, now)
	}
	// Evict flow-state entries older than the window.
	cutoff := now.Add(-o.cfg.FlowStateWindow)
	kept := o.flowRing[:0]
	for _, ts := range o.flowRing {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	o.flowRing = kept

	if !triggered {
		return
	}
	if len(o.flowRing) >= o.cfg.FlowStateThreshold {
		// Flow state: the developer is in the zone. Silent skip.
		return
	}

	if o.triageInFlight {
		o.triagePending = true
		return
	}
	o.startTriage(ctx)
}

// updateCountersAndTrigger applies the trigger table and returns whether
// this action should cause a triage run.
func (o *Observer) updateCountersAndTrigger(actionType string) bool {
	switch actionType {
	case models.ActionFileOpen:
		return true
	case models.ActionPhaseCompleted:
		o.bufferUpdateCount = 0
		return true
	case models.ActionBufferSummary, models.ActionBufferSignificant:
		o.bufferUpdateCount++
		if o.bufferUpdateCount >= o.cfg.BufferUpdateTriggerCount {
			o.bufferUpdateCount = 0
			return true
		}
	case models.ActionUserExplainRequest:
		o.explainRequestCount++
		if o.explainRequestCount >= o.cfg.ExplainRequestTriggerCount {
			o.explainRequestCount = 0
			return true
		}
	}
	return false
}

func (o *Observer) startTriage(ctx context.Context) {
	o.triageInFlight = true
	go func() {
		recent, err := o.actions.Recent(ctx, o.sessionID, recentActionWindow)
		if err != nil {
			o.results <- triageOutcome{err: err}
			return
		}
		result, err := o.classifier.Triage(ctx, o.sessionID, recent)
		o.results <- triageOutcome{result: result, err: err}
	}()
}

func (o *Observer) handleTriageOutcome(ctx context.Context, outcome triageOutcome) {
	if outcome.err != nil {
		// Classifier failures never crash the observer.
		o.logger.Warn(ctx, "triage failed", "session_id", o.sessionID, "error", outcome.err)
		if o.metrics != nil {
			o.metrics.TriageCalls.WithLabelValues("error").Inc()
		}
		return
	}
	result := outcome.result
	if o.metrics != nil {
		o.metrics.TriageCalls.WithLabelValues("ok").Inc()
	}

	o.logAction(ctx, models.ActionObserverTriage, map[string]any{
		"should_nudge": result.ShouldNudge,
		"confidence":   result.Confidence,
		"signal":       result.Signal,
		"reasoning":    result.Reasoning,
	})

	if !result.ShouldNudge {
		return
	}
	if result.Confidence < o.cfg.ConfidenceThreshold {
		o.suppress(ctx, "low_confidence")
		return
	}
	now := o.now()
	if !o.lastNudgeAt.IsZero() && now.Sub(o.lastNudgeAt) < o.cfg.Cooldown {
		o.suppress(ctx, "cooldown")
		return
	}

	o.broadcast.Broadcast(hub.MsgObserverNudge, map[string]any{
		"signal":     result.Signal,
		"confidence": result.Confidence,
		"message":    result.Reasoning,
	})
	o.logAction(ctx, models.ActionNudgeSent, map[string]any{
		"signal":     result.Signal,
		"confidence": result.Confidence,
	})
	if o.metrics != nil {
		o.metrics.NudgesSent.Inc()
	}
	o.lastNudgeAt = now
}

func (o *Observer) suppress(ctx context.Context, reason string) {
	o.logAction(ctx, models.ActionNudgeSuppressed, map[string]any{"reason": reason})
	if o.metrics != nil {
		o.metrics.NudgesSuppressed.WithLabelValues(reason).Inc()
	}
}

func (o *Observer) logAction(ctx context.Context, actionType string, data map[string]any) {
	if err := o.actions.Log(ctx, o.sessionID, actionType, data); err != nil {
		o.logger.Error(ctx, "observer action log failed", "action_type", actionType, "error", err)
	}
}
