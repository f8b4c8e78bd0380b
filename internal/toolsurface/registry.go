// Package toolsurface exposes the read-only tool set an external AI host
// drives the session through. Tools observe and steer the UI; none of
// them may mutate workspace files, and the naming rules enforce that at
// registration time.
package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	jsv "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/pkg/models"
)

// Namespace prefixes every tool name.
const Namespace = "paige_"

// forbiddenNames rejects any tool whose name suggests mutation. The tool
// surface is read-only; a name that promises writes is a bug even if the
// implementation behaves.
var forbiddenNames = regexp.MustCompile(`(?i)write|edit|create|delete|remove|modify`)

// Handler executes one tool call with decoded arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one registered tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler

	compiled *jsv.Schema
}

// ActionLogger records the system-class action emitted per invocation.
type ActionLogger interface {
	Log(ctx context.Context, sessionID int64, actionType string, data map[string]any) error
}

// SessionLookup reports the active session, if any.
type SessionLookup func() (sessionID int64, ok bool)

// Registry routes tool calls and enforces the naming invariants.
type Registry struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	actions ActionLogger
	session SessionLookup

	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(actions ActionLogger, session SessionLookup, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		logger:  logger,
		metrics: metrics,
		actions: actions,
		session: session,
		tools:   make(map[string]*Tool),
	}
}

// Register adds a tool. Names must carry the namespace prefix and must not
// contain any mutating verb.
func (r *Registry) Register(tool Tool) error {
	if !strings.HasPrefix(tool.Name, Namespace) {
		return fmt.Errorf("tool %q: name must start with %q", tool.Name, Namespace)
	}
	if forbiddenNames.MatchString(tool.Name) {
		return fmt.Errorf("tool %q: name suggests mutation; the tool surface is read-only", tool.Name)
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q: nil handler", tool.Name)
	}

	if tool.InputSchema != nil {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return fmt.Errorf("tool %q: schema: %w", tool.Name, err)
		}
		compiled, err := jsv.CompileString(tool.Name+".json", string(raw))
		if err != nil {
			return fmt.Errorf("tool %q: schema: %w", tool.Name, err)
		}
		tool.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = &tool
	return nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the wire descriptions for tools/list.
func (r *Registry) Descriptors() []toolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]toolDescriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, toolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call validates arguments, runs the handler, and logs an mcp_tool_call
// action against the active session. With no active session there is no
// valid session to attach the row to, so nothing is logged. The lookup
// runs after the handler, so start_session logs against the session it
// just created.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	if tool.compiled != nil {
		var decoded any = map[string]any{}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &decoded); err != nil {
				return nil, fmt.Errorf("tool %s: invalid arguments: %w", name, err)
			}
		}
		if err := tool.compiled.Validate(decoded); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
	}

	result, err := tool.Handler(ctx, args)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.ToolInvocations.WithLabelValues(name, status).Inc()
	}

	if sessionID, active := r.session(); active {
		data := map[string]any{"tool": name, "status": status}
		if err != nil {
			data["error"] = err.Error()
		}
		if logErr := r.actions.Log(ctx, sessionID, models.ActionMCPToolCall, data); logErr != nil {
			r.logger.Error(ctx, "tool call action log failed", "tool", name, "error", logErr)
		}
	}

	return result, err
}
