package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paigeai/paige/internal/model"
	"github.com/paigeai/paige/internal/store"
)

// TriageResult is the classifier's verdict on whether to nudge.
type TriageResult struct {
	ShouldNudge bool    `json:"should_nudge"`
	Confidence  float64 `json:"confidence"`
	Signal      string  `json:"signal"`
	Reasoning   string  `json:"reasoning"`
}

// Classifier decides whether recent activity warrants a nudge.
type Classifier interface {
	Triage(ctx context.Context, sessionID int64, recent []store.ActionRow) (*TriageResult, error)
}

const triageSystemPrompt = `You observe a developer working through a coding exercise with a coach.
Given their recent editor activity, decide whether a short coaching nudge
would help right now. Nudge only on real signals: repeated explain requests,
thrashing between files, long edit bursts with no saves. Signal names are
short snake_case labels like "repeated_explains" or "file_thrashing".`

// ModelClassifier triages through the model client on the cheap tier.
type ModelClassifier struct {
	client *model.Client
}

// NewModelClassifier creates a classifier over the shared model client.
func NewModelClassifier(client *model.Client) *ModelClassifier {
	return &ModelClassifier{client: client}
}

// Triage summarizes recent actions into a prompt and asks for a verdict.
func (c *ModelClassifier) Triage(ctx context.Context, sessionID int64, recent []store.ActionRow) (*TriageResult, error) {
	var sb strings.Builder
	sb.WriteString("Recent actions, newest first:\n")
	for _, row := range recent {
		sb.WriteString("- ")
		sb.WriteString(row.CreatedAt.Format("15:04:05"))
		sb.WriteString(" ")
		sb.WriteString(row.Type)
		if len(row.Data) > 0 {
			data, err := json.Marshal(row.Data)
			if err == nil {
				sb.WriteString(" ")
				sb.Write(data)
			}
		}
		sb.WriteString("\n")
	}

	result, err := model.Call[TriageResult](ctx, c.client, model.Request{
		SessionID:   sessionID,
		CallType:    "observer_triage",
		Tier:        model.TierHaiku,
		System:      triageSystemPrompt,
		UserMessage: sb.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}
	return result, nil
}
