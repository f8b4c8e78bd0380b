package toolsurface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/sessions"
	"github.com/paigeai/paige/internal/store"
	"github.com/paigeai/paige/internal/workspace"
	"github.com/paigeai/paige/pkg/models"
)

// Broadcaster is the hub subset the UI-control tools need.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// SessionController is the lifecycle surface the session tools drive.
type SessionController interface {
	Start(ctx context.Context, opts sessions.StartOptions) (*models.Session, error)
	End(ctx context.Context, reason models.SessionStatus) (*sessions.EndSummary, error)
	Active() (*models.Session, bool)
}

// PlanAccess fetches stored plans and persists phase-status updates.
type PlanAccess interface {
	BySession(ctx context.Context, sessionID int64) (*models.Plan, error)
	SetPhaseStatus(ctx context.Context, sessionID int64, number int, status models.PhaseStatus) error
}

// Deps wires the tool handlers to the rest of the system.
type Deps struct {
	Sessions  SessionController
	Buffers   *buffers.Cache
	Workspace *workspace.Workspace
	Plans     PlanAccess
	Actions   ActionLogger
	Broadcast Broadcaster
	// OpenFiles reports the paths currently open in the editor.
	OpenFiles func() []string
	// HintLevel reports the current hint level.
	HintLevel func() string
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// RegisterAll installs the complete tool set.
func RegisterAll(r *Registry, deps Deps) error {
	tools := []Tool{
		startSessionTool(deps),
		endSessionTool(deps),
		getBufferTool(deps),
		getOpenFilesTool(deps),
		getDiffTool(deps),
		getSessionStateTool(deps),
		openFileTool(deps),
		highlightLinesTool(deps),
		clearHighlightsTool(deps),
		hintFilesTool(deps),
		clearHintsTool(deps),
		updatePhaseTool(deps),
		showMessageTool(deps),
		showIssueContextTool(deps),
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func startSessionTool(deps Deps) Tool {
	type params struct {
		ProjectDir  string `json:"project_dir"`
		IssueNumber *int   `json:"issue_number,omitempty"`
		IssueTitle  string `json:"issue_title,omitempty"`
	}
	return Tool{
		Name:        Namespace + "start_session",
		Description: "Begin a coaching session in the given project directory.",
		InputSchema: objectSchema([]string{"project_dir"}, map[string]any{
			"project_dir":  map[string]any{"type": "string"},
			"issue_number": map[string]any{"type": "integer"},
			"issue_title":  map[string]any{"type": "string"},
		}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var p params
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			session, err := deps.Sessions.Start(ctx, sessions.StartOptions{
				ProjectDir:  p.ProjectDir,
				IssueNumber: p.IssueNumber,
				IssueTitle:  p.IssueTitle,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"session_id":  session.ID,
				"project_dir": session.ProjectDir,
				"status":      session.Status,
			}, nil
		},
	}
}

func endSessionTool(deps Deps) Tool {
	return Tool{
		Name:        Namespace + "end_session",
		Description: "End the active coaching session and run reflection.",
		InputSchema: objectSchema(nil, map[string]any{}),
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			summary, err := deps.Sessions.End(ctx, models.SessionCompleted)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success":             true,
				"session_id":          summary.SessionID,
				"memories_added":      summary.MemoriesAdded,
				"gaps_identified":     summary.GapsIdentified,
				"katas_generated":     summary.KatasGenerated,
				"assessments_updated": summary.AssessmentsUpdated,
			}, nil
		},
	}
}

func getBufferTool(deps Deps) Tool {
	type params struct {
		Path string `json:"path"`
	}
	return Tool{
		Name:        Namespace + "get_buffer",
		Description: "Read the unsaved buffer content for a path, or null if none.",
		InputSchema: objectSchema([]string{"path"}, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p params
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			buffer, ok := deps.Buffers.Get(p.Path)
			if !ok {
				return nil, nil
			}
			return map[string]any{"content": buffer.Content, "dirty": buffer.Dirty}, nil
		},
	}
}

func getOpenFilesTool(deps Deps) Tool {
	return Tool{
		Name:        Namespace + "get_open_files",
		Description: "List the files currently open in the editor.",
		InputSchema: objectSchema(nil, map[string]any{}),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			files := deps.OpenFiles()
			if files == nil {
				files = []string{}
			}
			return map[string]any{"files": files}, nil
		},
	}
}

func getDiffTool(deps Deps) Tool {
	type params struct {
		Path string `json:"path,omitempty"`
	}
	return Tool{
		Name:        Namespace + "get_diff",
		Description: "Unified diff between on-disk content and the unsaved buffer.",
		InputSchema: objectSchema(nil, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p params
			if len(args) > 0 {
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
			}

			paths := deps.Buffers.DirtyPaths()
			if p.Path != "" {
				paths = []string{p.Path}
			}

			var sb strings.Builder
			for _, path := range paths {
				buffer, ok := deps.Buffers.Get(path)
				if !ok {
					continue
				}
				diff, err := deps.Workspace.Diff(path, buffer.Content)
				if err != nil {
					return nil, err
				}
				sb.WriteString(diff)
			}
			return map[string]any{"diff": sb.String()}, nil
		},
	}
}

func getSessionStateTool(deps Deps) Tool {
	type params struct {
		Include []string `json:"include,omitempty"`
	}
	return Tool{
		Name:        Namespace + "get_session_state",
		Description: "Snapshot of the active session: plan, open files, dirty buffers, hint level.",
		InputSchema: objectSchema(nil, map[string]any{
			"include": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var p params
			if len(args) > 0 {
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
			}
			session, ok := deps.Sessions.Active()
			if !ok {
				return nil, sessions.ErrNoActiveSession
			}

			include := map[string]bool{}
			for _, section := range p.Include {
				include[section] = true
			}
			all := len(include) == 0

			state := map[string]any{
				"session_id":  session.ID,
				"project_dir": session.ProjectDir,
				"status":      session.Status,
			}
			if all || include["plan"] {
				if plan, err := deps.Plans.BySession(ctx, session.ID); err == nil {
					state["plan"] = plan
				}
			}
			if all || include["files"] {
				state["open_files"] = deps.OpenFiles()
				state["dirty_paths"] = deps.Buffers.DirtyPaths()
			}
			if all || include["hints"] {
				state["hint_level"] = deps.HintLevel()
			}
			return state, nil
		},
	}
}

func openFileTool(deps Deps) Tool {
	type params struct {
		Path string `json:"path"`
	}
	return Tool{
		Name:        Namespace + "open_file",
		Description: "Open a file in the editor.",
		InputSchema: objectSchema([]string{"path"}, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p params
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			content, err := deps.Workspace.ReadFile(p.Path)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", p.Path, err)
			}
			deps.Broadcast.Broadcast(hub.MsgBufferContent, map[string]any{
				"path":    p.Path,
				"content": content,
			})
			return map[string]any{"success": true}, nil
		},
	}
}

func highlightLinesTool(deps Deps) Tool {
	return Tool{
		Name:        Namespace + "highlight_lines",
		Description: "Highlight line ranges in an open file.",
		InputSchema: objectSchema([]string{"path", "ranges"}, map[string]any{
			"path": map[string]any{"type": "string"},
			"ranges": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"start", "end"},
					"properties": map[string]any{
						"start": map[string]any{"type": "integer"},
						"end":   map[string]any{"type": "integer"},
						"style": map[string]any{"type": "string"},
					},
				},
			},
		}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p map[string]any
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			deps.Broadcast.Broadcast(hub.MsgEditorDecorations, p)
			return map[string]any{"success": true}, nil
		},
	}
}

func clearHighlightsTool(deps Deps) Tool {
	type params struct {
		Path string `json:"path,omitempty"`
	}
	return Tool{
		Name:        Namespace + "clear_highlights",
		Description: "Clear highlights for one path, or all paths.",
		InputSchema: objectSchema(nil, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p params
			if len(args) > 0 {
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
			}
			payload := map[string]any{}
			if p.Path != "" {
				payload["path"] = p.Path
			}
			deps.Broadcast.Broadcast(hub.MsgEditorClearDecorations, payload)
			return map[string]any{"success": true}, nil
		},
	}
}

func hintFilesTool(deps Deps) Tool {
	return Tool{
		Name:        Namespace + "hint_files",
		Description: "Mark files in the explorer as relevant, at a visibility level.",
		InputSchema: objectSchema([]string{"paths", "style"}, map[string]any{
			"paths": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"style": map[string]any{
				"type": "string",
				"enum": []string{"subtle", "obvious", "unmissable"},
			},
		}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p map[string]any
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			deps.Broadcast.Broadcast(hub.MsgExplorerHintFiles, p)
			return map[string]any{"success": true}, nil
		},
	}
}

func clearHintsTool(deps Deps) Tool {
	return Tool{
		Name:        Namespace + "clear_hints",
		Description: "Clear all explorer file hints.",
		InputSchema: objectSchema(nil, map[string]any{}),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			deps.Broadcast.Broadcast(hub.MsgExplorerClearHints, map[string]any{})
			return map[string]any{"success": true}, nil
		},
	}
}

func updatePhaseTool(deps Deps) Tool {
	return Tool{
		Name:        Namespace + "update_phase",
		Description: "Mark a plan phase as pending, active, or complete.",
		InputSchema: objectSchema([]string{"phase", "status"}, map[string]any{
			"phase": map[string]any{"type": "integer"},
			"status": map[string]any{
				"type": "string",
				"enum": []string{"pending", "active", "complete"},
			},
		}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var p struct {
				Phase  int    `json:"phase"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			session, ok := deps.Sessions.Active()
			if !ok {
				return nil, sessions.ErrNoActiveSession
			}

			status := models.PhaseStatus(p.Status)
			// The plan may not exist yet while planning is still running;
			// the transition still reaches the UI in that case.
			if err := deps.Plans.SetPhaseStatus(ctx, session.ID, p.Phase, status); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("update phase %d: %w", p.Phase, err)
			}
			if status == models.PhaseComplete {
				if err := deps.Actions.Log(ctx, session.ID, models.ActionPhaseCompleted, map[string]any{"phase": p.Phase}); err != nil {
					return nil, fmt.Errorf("log phase completion: %w", err)
				}
			}
			deps.Broadcast.Broadcast(hub.MsgPhaseTransition, map[string]any{
				"phase":  p.Phase,
				"status": p.Status,
			})
			return map[string]any{"success": true}, nil
		},
	}
}

func showMessageTool(deps Deps) Tool {
	return Tool{
		Name:        Namespace + "show_message",
		Description: "Show a coaching message in the UI.",
		InputSchema: objectSchema([]string{"message", "type"}, map[string]any{
			"message": map[string]any{"type": "string"},
			"type": map[string]any{
				"type": "string",
				"enum": []string{"hint", "info", "success", "warning"},
			},
		}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p map[string]any
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			p["source"] = "agent"
			deps.Broadcast.Broadcast(hub.MsgCoachingMessage, p)
			return map[string]any{"success": true}, nil
		},
	}
}

func showIssueContextTool(deps Deps) Tool {
	return Tool{
		Name:        Namespace + "show_issue_context",
		Description: "Show the current issue's context in the dashboard.",
		InputSchema: objectSchema([]string{"title"}, map[string]any{
			"title":      map[string]any{"type": "string"},
			"summary":    map[string]any{"type": "string"},
			"number":     map[string]any{"type": "integer"},
			"labels":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"difficulty": map[string]any{"type": "string"},
		}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p map[string]any
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			deps.Broadcast.Broadcast(hub.MsgDashboardIssue, p)
			return map[string]any{"success": true}, nil
		},
	}
}
