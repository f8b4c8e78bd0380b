// Package coaching runs the model-backed pipeline around a session: plan
// generation with live progress, on-demand explanations, review delivery,
// and end-of-session reflection into the memory store.
package coaching

import (
	"context"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/memory"
	"github.com/paigeai/paige/internal/model"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/review"
	"github.com/paigeai/paige/internal/workspace"
	"github.com/paigeai/paige/pkg/models"
)

// Broadcaster is the hub subset the pipeline needs.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// ActionLogger records pipeline actions.
type ActionLogger interface {
	Log(ctx context.Context, sessionID int64, actionType string, data map[string]any) error
}

// PlanStore persists generated plans.
type PlanStore interface {
	Save(ctx context.Context, sessionID int64, plan *models.Plan) error
	BySession(ctx context.Context, sessionID int64) (*models.Plan, error)
	SetPhaseStatus(ctx context.Context, sessionID int64, number int, status models.PhaseStatus) error
}

// Pipeline wires the coaching stages to their collaborators.
type Pipeline struct {
	client    *model.Client
	plans     PlanStore
	memories  memory.Store
	ws        *workspace.Workspace
	buffers   *buffers.Cache
	actions   ActionLogger
	broadcast Broadcaster
	reviewer  *review.Agent
	logger    *observability.Logger
}

// Options wires a pipeline.
type Options struct {
	Client    *model.Client
	Plans     PlanStore
	Memories  memory.Store
	Workspace *workspace.Workspace
	Buffers   *buffers.Cache
	Actions   ActionLogger
	Broadcast Broadcaster
	Reviewer  *review.Agent
	Logger    *observability.Logger
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{
		client:    opts.Client,
		plans:     opts.Plans,
		memories:  opts.Memories,
		ws:        opts.Workspace,
		buffers:   opts.Buffers,
		actions:   opts.Actions,
		broadcast: opts.Broadcast,
		reviewer:  opts.Reviewer,
		logger:    opts.Logger,
	}
}

func (p *Pipeline) logAction(ctx context.Context, sessionID int64, actionType string, data map[string]any) {
	if err := p.actions.Log(ctx, sessionID, actionType, data); err != nil {
		p.logger.Error(ctx, "pipeline action log failed", "action_type", actionType, "error", err)
	}
}
