package coaching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/memory"
	"github.com/paigeai/paige/internal/model"
	"github.com/paigeai/paige/pkg/models"
)

// Planning phase names broadcast to the UI.
const (
	phaseFetching     = "fetching"
	phaseExploring    = "exploring"
	phasePlanning     = "planning"
	phaseWritingHints = "writing_hints"
)

// exploreFileCap bounds how much of the tree goes into the planning prompt.
const exploreFileCap = 200

type planResponse struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Phases  []struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Tasks       []struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			TargetFiles []string `json:"targetFiles"`
		} `json:"tasks"`
	} `json:"phases"`
}

type hintsResponse struct {
	Tasks []models.HintSet `json:"tasks"`
}

const planSystemPrompt = `You are a coding coach planning how a learner should tackle a GitHub issue.
Break the work into 3 to 5 phases. Each phase has 1 to 4 concrete tasks with the files they touch.
Phases follow the natural workflow: understand, design, implement, verify.
Do not solve the issue; describe the path the learner should walk.`

const hintSystemPrompt = `You write scaffolding hints for the tasks of one phase of a coding plan.
For each task produce three hint levels: low (a nudge in the right direction),
medium (names the concepts and files involved), high (a concrete walkthrough short of full code).
Return the hints in task order.`

// Plan generates and persists the coaching plan for a session, streaming
// progress to the UI. Failures broadcast planning:error and are returned.
// A cancelled plan stays silent: the session is ending and partial results
// are discarded, not reported.
func (p *Pipeline) Plan(ctx context.Context, session *models.Session) error {
	p.broadcast.Broadcast(hub.MsgPlanningStarted, map[string]any{"sessionId": session.ID})

	plan, err := p.buildPlan(ctx, session)
	if err != nil {
		if planningCancelled(ctx, err) {
			return err
		}
		p.broadcast.Broadcast(hub.MsgPlanningError, map[string]any{
			"sessionId": session.ID,
			"message":   err.Error(),
		})
		return err
	}

	if err := p.plans.Save(ctx, session.ID, plan); err != nil {
		if planningCancelled(ctx, err) {
			return err
		}
		p.broadcast.Broadcast(hub.MsgPlanningError, map[string]any{
			"sessionId": session.ID,
			"message":   "failed to persist plan",
		})
		return err
	}

	p.logAction(ctx, session.ID, models.ActionPlanCreated, map[string]any{
		"title":  plan.Title,
		"phases": len(plan.Phases),
	})
	p.broadcast.Broadcast(hub.MsgPlanningComplete, map[string]any{
		"sessionId": session.ID,
		"plan":      plan,
	})
	return nil
}

func planningCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func (p *Pipeline) buildPlan(ctx context.Context, session *models.Session) (*models.Plan, error) {
	p.progress(session.ID, phaseFetching, 5)
	memories := p.fetchMemories(ctx, session)

	p.progress(session.ID, phaseExploring, 25)
	files, err := p.ws.ListFiles(".", true)
	if err != nil {
		return nil, fmt.Errorf("explore workspace: %w", err)
	}
	if len(files) > exploreFileCap {
		files = files[:exploreFileCap]
	}

	p.progress(session.ID, phasePlanning, 50)
	resp, err := model.Call[planResponse](ctx, p.client, model.Request{
		SessionID:   session.ID,
		CallType:    "planning",
		Tier:        model.TierSonnet,
		System:      planSystemPrompt,
		UserMessage: planPrompt(session, files, memories),
	})
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	plan := assemblePlan(resp)
	for i := range plan.Phases {
		p.broadcast.Broadcast(hub.MsgPlanningPhaseUpdate, map[string]any{
			"sessionId": session.ID,
			"phase":     plan.Phases[i],
		})
	}

	p.progress(session.ID, phaseWritingHints, 75)
	for i := range plan.Phases {
		if err := p.writeHints(ctx, session.ID, &plan.Phases[i]); err != nil {
			// A phase without hints is still usable; keep going.
			p.logger.Warn(ctx, "hint generation failed",
				"session_id", session.ID, "phase", plan.Phases[i].Number, "error", err)
		}
	}

	p.progress(session.ID, phaseWritingHints, 100)
	return plan, nil
}

func (p *Pipeline) writeHints(ctx context.Context, sessionID int64, phase *models.PlanPhase) error {
	if len(phase.Tasks) == 0 {
		return nil
	}
	resp, err := model.Call[hintsResponse](ctx, p.client, model.Request{
		SessionID:   sessionID,
		CallType:    "hint_generation",
		Tier:        model.TierHaiku,
		System:      hintSystemPrompt,
		UserMessage: hintsPrompt(phase),
	})
	if err != nil {
		return err
	}
	for i := range phase.Tasks {
		if i < len(resp.Tasks) {
			phase.Tasks[i].Hints = resp.Tasks[i]
		}
	}
	return nil
}

func (p *Pipeline) fetchMemories(ctx context.Context, session *models.Session) []memory.Result {
	query := session.IssueTitle
	if query == "" {
		query = session.ProjectDir
	}
	results, err := p.memories.Search(ctx, memory.Query{
		Text:     query,
		NResults: 5,
		Project:  session.ProjectDir,
	})
	if err != nil {
		p.logger.Warn(ctx, "memory retrieval failed", "session_id", session.ID, "error", err)
		return nil
	}
	return results
}

func (p *Pipeline) progress(sessionID int64, phase string, percent int) {
	p.broadcast.Broadcast(hub.MsgPlanningProgress, map[string]any{
		"sessionId": sessionID,
		"phase":     phase,
		"progress":  percent,
	})
}

func planPrompt(session *models.Session, files []string, memories []memory.Result) string {
	var sb strings.Builder
	if session.IssueNumber != nil {
		fmt.Fprintf(&sb, "Issue #%d: %s\n\n", *session.IssueNumber, session.IssueTitle)
	} else if session.IssueTitle != "" {
		fmt.Fprintf(&sb, "Issue: %s\n\n", session.IssueTitle)
	} else {
		sb.WriteString("Freeform session with no bound issue.\n\n")
	}

	sb.WriteString("Project files:\n")
	for _, f := range files {
		sb.WriteString(f)
		sb.WriteByte('\n')
	}

	if len(memories) > 0 {
		sb.WriteString("\nWhat we know about this learner from past sessions:\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}
	return sb.String()
}

func hintsPrompt(phase *models.PlanPhase) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Phase %d: %s\n%s\n\nTasks:\n", phase.Number, phase.Title, phase.Description)
	for i, task := range phase.Tasks {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, task.Title, task.Description)
	}
	return sb.String()
}

// assemblePlan converts the model response into the domain plan. The first
// phase starts active; phase numbers are normalized to their position.
func assemblePlan(resp *planResponse) *models.Plan {
	plan := &models.Plan{Title: resp.Title, Summary: resp.Summary}
	for i, phase := range resp.Phases {
		status := models.PhasePending
		if i == 0 {
			status = models.PhaseActive
		}
		out := models.PlanPhase{
			Number:      i + 1,
			Title:       phase.Title,
			Description: phase.Description,
			Status:      status,
		}
		for _, task := range phase.Tasks {
			out.Tasks = append(out.Tasks, models.PlanTask{
				Title:       task.Title,
				Description: task.Description,
				TargetFiles: task.TargetFiles,
			})
		}
		plan.Phases = append(plan.Phases, out)
	}
	return plan
}
