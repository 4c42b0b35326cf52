// Package tools defines the tools the assistant may invoke.
//
// Every registered tool requires the caller identity under [CallerKey]
// in its argument mapping. The identity is stamped in by the
// orchestrator after JWT verification; handlers trust it and scope
// every store operation to it. Results are JSON-serializable maps; all
// failures, including unknown tool names and handler panics, surface
// as {"error": "<description>"} rather than propagating.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskpilot/taskpilot/internal/events"
	"github.com/taskpilot/taskpilot/internal/task"
)

// CallerKey is the argument key carrying the authenticated user id.
// Whatever the model supplies under this key is discarded before
// dispatch; see the orchestrator's identity injection.
const CallerKey = "user_id"

// Handler executes one tool call against the post-injection arguments.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry holds the available tools.
type Registry struct {
	tools  map[string]*Tool
	tasks  *task.Store
	events events.Publisher
	logger *slog.Logger
}

// NewRegistry creates a registry with the built-in task tools. pub may
// be nil when task eventing is disabled.
func NewRegistry(tasks *task.Store, pub events.Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		tasks:  tasks,
		events: pub,
		logger: logger,
	}
	r.registerBuiltins()
	return r
}

// publish emits a task lifecycle event when eventing is enabled.
func (r *Registry) publish(ctx context.Context, eventType string, t *task.Task) {
	if r.events != nil {
		r.events.PublishTask(ctx, eventType, t)
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns the function-tool schemas for provisioning the
// remote assistant.
func (r *Registry) Definitions() []map[string]any {
	var defs []map[string]any
	for _, t := range r.tools {
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return defs
}

// Execute runs a tool by name. It never returns an error and never
// panics past this boundary: every failure becomes an error payload so
// the run can continue and the model can react to the failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			result = errorPayload(fmt.Sprintf("Tool execution failed: %v", rec))
		}
	}()

	tool := r.tools[name]
	if tool == nil {
		return errorPayload(fmt.Sprintf("Unknown tool: %s", name))
	}

	out, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Debug("tool returned error", "tool", name, "error", err)
		return errorPayload(err.Error())
	}
	return out
}

func errorPayload(msg string) map[string]any {
	return map[string]any{"error": msg}
}
