package coaching

import (
	"context"

	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/review"
	"github.com/paigeai/paige/pkg/models"
)

// Review runs the review agent and delivers its result to the UI.
func (p *Pipeline) Review(ctx context.Context, input review.Input) (*models.ReviewResult, error) {
	result, err := p.reviewer.Run(ctx, input)
	if err != nil {
		return nil, err
	}

	p.broadcast.Broadcast(hub.MsgCoachingReviewResult, map[string]any{
		"sessionId": input.SessionID,
		"scope":     string(input.Scope),
		"result":    result,
	})
	p.logAction(ctx, input.SessionID, models.ActionReviewCompleted, map[string]any{
		"scope":        string(input.Scope),
		"codeComments": len(result.CodeComments),
	})
	return result, nil
}
