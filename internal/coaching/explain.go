package coaching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/model"
	"github.com/paigeai/paige/pkg/models"
)

// ExplainRequest is a user-initiated explanation of code they are reading.
type ExplainRequest struct {
	Path      string        `json:"path"`
	Selection string        `json:"selection,omitempty"`
	Range     *models.Range `json:"range,omitempty"`
	Question  string        `json:"question,omitempty"`
}

type explanationResponse struct {
	Title           string `json:"title"`
	Explanation     string `json:"explanation"`
	PhaseConnection string `json:"phaseConnection"`
}

const explainSystemPrompt = `You explain code to a learner mid-session. Explain what the selected code
does and why it matters, at the learner's level. If the code relates to the
current plan phase, say how. Keep it under 200 words.`

// Explain answers a user:explain request and delivers the result as a
// coaching message.
func (p *Pipeline) Explain(ctx context.Context, sessionID int64, req ExplainRequest) (*models.ExplanationEntry, error) {
	resp, err := model.Call[explanationResponse](ctx, p.client, model.Request{
		SessionID:   sessionID,
		CallType:    "explain",
		Tier:        model.TierSonnet,
		System:      explainSystemPrompt,
		UserMessage: p.explainPrompt(ctx, sessionID, req),
	})
	if err != nil {
		return nil, err
	}

	entry := &models.ExplanationEntry{
		ID:              uuid.NewString(),
		Title:           resp.Title,
		Explanation:     resp.Explanation,
		PhaseConnection: resp.PhaseConnection,
		Timestamp:       time.Now().UTC(),
	}

	message := models.CoachingMessage{
		MessageID: entry.ID,
		Path:      req.Path,
		Range:     req.Range,
		Message:   entry.Explanation,
		Type:      models.MessageInfo,
		Source:    "explain",
	}
	p.broadcast.Broadcast(hub.MsgCoachingMessage, message)
	p.logAction(ctx, sessionID, models.ActionCoachingMessage, map[string]any{
		"messageId": entry.ID,
		"source":    "explain",
		"path":      req.Path,
	})
	return entry, nil
}

func (p *Pipeline) explainPrompt(ctx context.Context, sessionID int64, req ExplainRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n", req.Path)

	if req.Selection != "" {
		fmt.Fprintf(&sb, "\nSelected code:\n%s\n", req.Selection)
	} else if req.Path != "" {
		// No selection: explain the file as the learner currently sees it.
		content := ""
		if buffer, ok := p.buffers.Get(req.Path); ok && buffer.Dirty {
			content = buffer.Content
		} else if disk, err := p.ws.ReadFile(req.Path); err == nil {
			content = disk
		}
		if content != "" {
			fmt.Fprintf(&sb, "\nFile content:\n%s\n", content)
		}
	}

	if req.Question != "" {
		fmt.Fprintf(&sb, "\nThe learner asks: %s\n", req.Question)
	}

	if plan, err := p.plans.BySession(ctx, sessionID); err == nil {
		for _, phase := range plan.Phases {
			if phase.Status == models.PhaseActive {
				fmt.Fprintf(&sb, "\nCurrent plan phase: %s (%s)\n", phase.Title, phase.Description)
				break
			}
		}
	}
	return sb.String()
}
