// Package review runs the code-review agent: a bounded tool loop that lets
// the model inspect the workspace read-only and produce structured review
// feedback for the UI.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/model"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/workspace"
	"github.com/paigeai/paige/pkg/models"
)

// maxTurns bounds the tool loop.
const maxTurns = 20

// ErrMaxTurns is returned when the loop hits the cap without a final answer.
var ErrMaxTurns = errors.New("Review agent exceeded maximum turns")

// Scope selects what the review covers.
type Scope string

const (
	ScopeCurrentFile Scope = "current_file"
	ScopeOpenFiles   Scope = "open_files"
	ScopeCurrentTask Scope = "current_task"
	ScopePhase       Scope = "phase"
)

// Input describes one review request.
type Input struct {
	SessionID      int64
	Scope          Scope
	PhaseTitle     string
	ActiveFilePath string
	OpenFilePaths  []string
	Tasks          []models.PlanTask
}

// Agent drives the review tool loop.
type Agent struct {
	client  *model.Client
	ws      *workspace.Workspace
	buffers *buffers.Cache
	logger  *observability.Logger
}

// NewAgent creates a review agent over the given workspace.
func NewAgent(client *model.Client, ws *workspace.Workspace, cache *buffers.Cache, logger *observability.Logger) *Agent {
	return &Agent{client: client, ws: ws, buffers: cache, logger: logger}
}

const reviewSystemPrompt = `You are a senior engineer reviewing a learner's work in progress.
Use the tools to read the files in scope and the pending changes before judging anything.
Be encouraging but honest: praise what is genuinely good, flag real issues, and suggest concrete improvements at the learner's level.
When you are done, respond with a single JSON object and no surrounding prose:
{"overallFeedback": string, "codeComments": [{"filePath": string, "startLine": int, "endLine": int, "comment": string, "severity": "praise"|"suggestion"|"issue"}], "phaseComplete": bool|null, "taskFeedback": [{"taskTitle": string, "feedback": string, "taskComplete": bool}]}`

// Run executes the review loop and returns the structured result. Responses
// that are not valid JSON degrade to overall feedback with no inline
// comments rather than failing the review.
func (a *Agent) Run(ctx context.Context, input Input) (*models.ReviewResult, error) {
	if !a.client.Enabled() {
		return nil, model.ErrDisabled
	}

	transcript := []model.Message{model.UserText(a.prompt(input))}

	for turn := 0; turn < maxTurns; turn++ {
		completion, err := a.client.Complete(ctx, model.CallSpec{
			SessionID: input.SessionID,
			CallType:  "review",
			Tier:      model.TierSonnet,
			System:    reviewSystemPrompt,
			Messages:  transcript,
			Tools:     reviewTools(),
		})
		if err != nil {
			return nil, err
		}

		uses := completion.ToolUses()
		if len(uses) == 0 {
			return parseResult(completion.Text()), nil
		}

		// Every tool_use in the turn gets a matching tool_result; partial
		// answers confuse the conversation protocol.
		transcript = append(transcript, model.Message{Role: "assistant", Blocks: completion.Blocks})
		results := make([]model.Block, 0, len(uses))
		for _, use := range uses {
			content, toolErr := a.execute(ctx, use)
			if toolErr != nil {
				results = append(results, model.ToolResultBlock(use.ToolUseID, toolErr.Error(), true))
				continue
			}
			results = append(results, model.ToolResultBlock(use.ToolUseID, content, false))
		}
		transcript = append(transcript, model.Message{Role: "user", Blocks: results})
	}

	return nil, ErrMaxTurns
}

func (a *Agent) prompt(input Input) string {
	var sb strings.Builder
	switch input.Scope {
	case ScopeCurrentFile:
		fmt.Fprintf(&sb, "Review the file %s.\n", input.ActiveFilePath)
	case ScopeOpenFiles:
		sb.WriteString("Review the files the developer has open:\n")
		for _, path := range input.OpenFilePaths {
			fmt.Fprintf(&sb, "- %s\n", path)
		}
	case ScopeCurrentTask:
		sb.WriteString("Review progress on the current task.\n")
	case ScopePhase:
		fmt.Fprintf(&sb, "Review the work done for the phase %q and judge whether it is complete.\n", input.PhaseTitle)
	default:
		sb.WriteString("Review the pending changes in the project.\n")
	}

	if len(input.Tasks) > 0 {
		sb.WriteString("\nTasks in scope:\n")
		for _, task := range input.Tasks {
			fmt.Fprintf(&sb, "- %s: %s\n", task.Title, task.Description)
		}
	}
	return sb.String()
}

func reviewTools() []model.ToolDef {
	return []model.ToolDef{
		{
			Name:        "read_file",
			Description: "Read a file. Unsaved editor content is returned when the file has pending edits.",
			InputSchema: map[string]any{
				"type":       "object",
				"required":   []string{"path"},
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			},
		},
		{
			Name:        "git_diff",
			Description: "Show the git diff for the project, or for one file when path is given.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			},
		},
		{
			Name:        "list_files",
			Description: "List files under a directory. Defaults to the project root, non-recursive.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string"},
					"recursive": map[string]any{"type": "boolean"},
				},
			},
		},
	}
}

func (a *Agent) execute(ctx context.Context, use model.Block) (string, error) {
	switch use.ToolName {
	case "read_file":
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(use.ToolInput, &args); err != nil {
			return "", fmt.Errorf("read_file: %w", err)
		}
		if buffer, ok := a.buffers.Get(args.Path); ok && buffer.Dirty {
			return buffer.Content, nil
		}
		return a.ws.ReadFile(args.Path)

	case "git_diff":
		var args struct {
			Path string `json:"path"`
		}
		if len(use.ToolInput) > 0 {
			if err := json.Unmarshal(use.ToolInput, &args); err != nil {
				return "", fmt.Errorf("git_diff: %w", err)
			}
		}
		return a.ws.GitDiff(ctx, args.Path)

	case "list_files":
		var args struct {
			Path      string `json:"path"`
			Recursive bool   `json:"recursive"`
		}
		if len(use.ToolInput) > 0 {
			if err := json.Unmarshal(use.ToolInput, &args); err != nil {
				return "", fmt.Errorf("list_files: %w", err)
			}
		}
		if args.Path == "" {
			args.Path = "."
		}
		files, err := a.ws.ListFiles(args.Path, args.Recursive)
		if err != nil {
			return "", err
		}
		return strings.Join(files, "\n"), nil

	default:
		return "", fmt.Errorf("unknown tool %q", use.ToolName)
	}
}

// parseResult decodes the final text as a ReviewResult, stripping a fence if
// present. Unparseable output becomes plain overall feedback.
func parseResult(text string) *models.ReviewResult {
	raw := model.StripJSONFence(text)
	var result models.ReviewResult
	if err := json.Unmarshal([]byte(raw), &result); err == nil && result.OverallFeedback != "" {
		if result.CodeComments == nil {
			result.CodeComments = []models.CodeComment{}
		}
		return &result
	}
	return &models.ReviewResult{
		OverallFeedback: strings.TrimSpace(text),
		CodeComments:    []models.CodeComment{},
	}
}
