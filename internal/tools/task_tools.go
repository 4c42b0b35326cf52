package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/taskpilot/taskpilot/internal/events"
	"github.com/taskpilot/taskpilot/internal/task"
)

// notOwnedMsg is the uniform response for a task that does not exist or
// belongs to someone else. The two cases are deliberately
// indistinguishable so task ids cannot be probed across users.
const notOwnedMsg = "Task not found or not owned by user"

func (r *Registry) registerBuiltins() {
	userIDParam := map[string]any{
		"type":        "string",
		"description": "The authenticated user's ID (injected by the server)",
	}
	taskIDParam := map[string]any{
		"type":        "integer",
		"description": "The ID of the task",
	}

	r.Register(&Tool{
		Name:        "list_tasks",
		Description: "List all tasks for the authenticated user",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				CallerKey: userIDParam,
			},
			"required": []string{CallerKey},
		},
		Handler: r.handleListTasks,
	})

	r.Register(&Tool{
		Name:        "create_task",
		Description: "Create a new task for the authenticated user",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				CallerKey: userIDParam,
				"title": map[string]any{
					"type":        "string",
					"description": "The task title or description",
				},
			},
			"required": []string{CallerKey, "title"},
		},
		Handler: r.handleCreateTask,
	})

	r.Register(&Tool{
		Name:        "update_task",
		Description: "Update an existing task (title or completion status)",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				CallerKey: userIDParam,
				"task_id": taskIDParam,
				"title": map[string]any{
					"type":        "string",
					"description": "New task title (optional)",
				},
				"completed": map[string]any{
					"type":        "boolean",
					"description": "New completion status (optional)",
				},
			},
			"required": []string{CallerKey, "task_id"},
		},
		Handler: r.handleUpdateTask,
	})

	r.Register(&Tool{
		Name:        "delete_task",
		Description: "Delete a task",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				CallerKey: userIDParam,
				"task_id": taskIDParam,
			},
			"required": []string{CallerKey, "task_id"},
		},
		Handler: r.handleDeleteTask,
	})

	r.Register(&Tool{
		Name:        "get_task",
		Description: "Get details of a specific task",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				CallerKey: userIDParam,
				"task_id": taskIDParam,
			},
			"required": []string{CallerKey, "task_id"},
		},
		Handler: r.handleGetTask,
	})
}

// Argument extraction helpers. Model-supplied arguments are untrusted
// JSON; a field of the wrong type degrades to its zero value rather
// than failing the whole call.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		// Models occasionally quote numeric ids.
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func boolArg(args map[string]any, key string) (bool, bool) {
	b, ok := args[key].(bool)
	return b, ok
}

func taskPayload(t *task.Task) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"title":      t.Title,
		"completed":  t.Completed,
		"created_at": t.CreatedAt.Format(time.RFC3339),
	}
}

func (r *Registry) handleListTasks(ctx context.Context, args map[string]any) (map[string]any, error) {
	userID := stringArg(args, CallerKey)
	if userID == "" {
		return nil, fmt.Errorf("%s is required", CallerKey)
	}

	tasks, err := r.tasks.List(userID)
	if err != nil {
		return nil, fmt.Errorf("Failed to list tasks: %w", err)
	}

	payloads := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		payloads = append(payloads, taskPayload(t))
	}

	return map[string]any{"tasks": payloads, "count": len(payloads)}, nil
}

func (r *Registry) handleCreateTask(ctx context.Context, args map[string]any) (map[string]any, error) {
	userID := stringArg(args, CallerKey)
	title := stringArg(args, "title")
	if userID == "" {
		return nil, fmt.Errorf("%s is required", CallerKey)
	}
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	t, err := r.tasks.Create(userID, title)
	if err != nil {
		return nil, fmt.Errorf("Failed to create task: %w", err)
	}
	r.publish(ctx, events.TaskCreated, t)

	out := taskPayload(t)
	out["message"] = fmt.Sprintf("Task '%s' created successfully", t.Title)
	return out, nil
}

func (r *Registry) handleUpdateTask(ctx context.Context, args map[string]any) (map[string]any, error) {
	userID := stringArg(args, CallerKey)
	if userID == "" {
		return nil, fmt.Errorf("%s is required", CallerKey)
	}
	taskID, ok := intArg(args, "task_id")
	if !ok {
		return nil, fmt.Errorf("task_id is required")
	}

	var title *string
	if s := stringArg(args, "title"); s != "" {
		title = &s
	}
	var completed *bool
	if b, ok := boolArg(args, "completed"); ok {
		completed = &b
	}

	t, err := r.tasks.Update(userID, taskID, title, completed)
	if errors.Is(err, task.ErrNotFound) {
		return nil, errors.New(notOwnedMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to update task: %w", err)
	}
	eventType := events.TaskUpdated
	if completed != nil && *completed {
		eventType = events.TaskCompleted
	}
	r.publish(ctx, eventType, t)

	out := taskPayload(t)
	out["message"] = "Task updated successfully"
	return out, nil
}

func (r *Registry) handleDeleteTask(ctx context.Context, args map[string]any) (map[string]any, error) {
	userID := stringArg(args, CallerKey)
	if userID == "" {
		return nil, fmt.Errorf("%s is required", CallerKey)
	}
	taskID, ok := intArg(args, "task_id")
	if !ok {
		return nil, fmt.Errorf("task_id is required")
	}

	t, err := r.tasks.Delete(userID, taskID)
	if errors.Is(err, task.ErrNotFound) {
		return nil, errors.New(notOwnedMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to delete task: %w", err)
	}
	r.publish(ctx, events.TaskDeleted, t)

	return map[string]any{
		"message": fmt.Sprintf("Task '%s' deleted successfully", t.Title),
	}, nil
}

func (r *Registry) handleGetTask(ctx context.Context, args map[string]any) (map[string]any, error) {
	userID := stringArg(args, CallerKey)
	if userID == "" {
		return nil, fmt.Errorf("%s is required", CallerKey)
	}
	taskID, ok := intArg(args, "task_id")
	if !ok {
		return nil, fmt.Errorf("task_id is required")
	}

	t, err := r.tasks.Get(userID, taskID)
	if errors.Is(err, task.ErrNotFound) {
		return nil, errors.New(notOwnedMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to get task: %w", err)
	}

	out := taskPayload(t)
	out["updated_at"] = t.UpdatedAt.Format(time.RFC3339)
	return out, nil
}
