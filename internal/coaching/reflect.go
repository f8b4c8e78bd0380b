package coaching

import (
	"context"
	"fmt"
	"strings"

	"github.com/paigeai/paige/internal/model"
	"github.com/paigeai/paige/internal/sessions"
	"github.com/paigeai/paige/pkg/models"
)

// maxReflectionMemories caps what one session may add to the memory store.
const maxReflectionMemories = 10

type reflectionResponse struct {
	Memories []models.MemoryItem `json:"memories"`
	Gaps     []string            `json:"gaps"`
	Katas    []string            `json:"katas"`
}

const reflectSystemPrompt = `A coaching session just ended. From the plan and what happened, extract:
- memories: durable facts about this learner worth recalling in future sessions
  (skills shown, struggles, preferences), each with tags and an importance of
  low, medium, or high
- gaps: knowledge gaps the session revealed
- katas: short practice exercises that would close those gaps
Only include what the session actually evidenced.`

// Reflect distills a finished session into memories and returns the counts
// the end-session summary reports.
func (p *Pipeline) Reflect(ctx context.Context, session *models.Session) (*sessions.ReflectionResult, error) {
	resp, err := model.Call[reflectionResponse](ctx, p.client, model.Request{
		SessionID:   session.ID,
		CallType:    "reflection",
		Tier:        model.TierSonnet,
		System:      reflectSystemPrompt,
		UserMessage: p.reflectPrompt(ctx, session),
	})
	if err != nil {
		return nil, err
	}

	items := resp.Memories
	if len(items) > maxReflectionMemories {
		items = items[:maxReflectionMemories]
	}

	result := &sessions.ReflectionResult{
		GapsIdentified: len(resp.Gaps),
		KatasGenerated: len(resp.Katas),
	}
	if len(items) > 0 {
		ids, err := p.memories.AddMemories(ctx, session.ID, session.ProjectDir, items)
		if err != nil {
			return nil, fmt.Errorf("store memories: %w", err)
		}
		result.MemoriesAdded = len(ids)
	}
	return result, nil
}

func (p *Pipeline) reflectPrompt(ctx context.Context, session *models.Session) string {
	var sb strings.Builder
	if session.IssueTitle != "" {
		fmt.Fprintf(&sb, "The session worked on: %s\n\n", session.IssueTitle)
	}

	if plan, err := p.plans.BySession(ctx, session.ID); err == nil {
		fmt.Fprintf(&sb, "Plan: %s\n", plan.Title)
		for _, phase := range plan.Phases {
			fmt.Fprintf(&sb, "- Phase %d %q: %s\n", phase.Number, phase.Title, phase.Status)
		}
	} else {
		sb.WriteString("No plan was generated for this session.\n")
	}
	return sb.String()
}
