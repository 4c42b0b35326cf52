package tools

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/taskpilot/taskpilot/internal/events"
	"github.com/taskpilot/taskpilot/internal/task"
)

func newTestRegistry(t *testing.T) (*Registry, *task.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := task.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistry(store, nil, nil), store
}

func TestExecuteUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)

	got := r.Execute(context.Background(), "not_a_real_tool", map[string]any{})
	if got["error"] != "Unknown tool: not_a_real_tool" {
		t.Errorf(`Execute() = %v, want {"error": "Unknown tool: not_a_real_tool"}`, got)
	}
}

func TestCreateAndListTasks(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	created := r.Execute(ctx, "create_task", map[string]any{
		CallerKey: "u1",
		"title":   "buy milk",
	})
	if created["error"] != nil {
		t.Fatalf("create_task error: %v", created["error"])
	}
	if created["title"] != "buy milk" || created["completed"] != false {
		t.Errorf("create_task = %v", created)
	}
	if created["message"] != "Task 'buy milk' created successfully" {
		t.Errorf("message = %v", created["message"])
	}

	listed := r.Execute(ctx, "list_tasks", map[string]any{CallerKey: "u1"})
	if listed["count"] != 1 {
		t.Errorf("list_tasks count = %v, want 1", listed["count"])
	}
}

func TestOwnershipIsolation(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	owned, err := store.Create("user-b", "bob's secret")
	if err != nil {
		t.Fatal(err)
	}

	// JSON numbers arrive as float64.
	taskID := float64(owned.ID)

	for _, toolName := range []string{"get_task", "delete_task"} {
		got := r.Execute(ctx, toolName, map[string]any{
			CallerKey: "user-a",
			"task_id": taskID,
		})
		if got["error"] != "Task not found or not owned by user" {
			t.Errorf("%s cross-user = %v, want uniform not-found", toolName, got)
		}
	}

	got := r.Execute(ctx, "update_task", map[string]any{
		CallerKey:   "user-a",
		"task_id":   taskID,
		"title":     "hijacked",
		"completed": true,
	})
	if got["error"] != "Task not found or not owned by user" {
		t.Errorf("update_task cross-user = %v", got)
	}

	// No mutation took place.
	after, err := store.Get("user-b", owned.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Title != "bob's secret" || after.Completed {
		t.Errorf("cross-user call mutated task: %+v", after)
	}
}

func TestUpdateTask(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	owned, err := store.Create("u1", "original")
	if err != nil {
		t.Fatal(err)
	}

	got := r.Execute(ctx, "update_task", map[string]any{
		CallerKey:   "u1",
		"task_id":   float64(owned.ID),
		"completed": true,
	})
	if got["error"] != nil {
		t.Fatalf("update_task error: %v", got["error"])
	}
	if got["completed"] != true || got["title"] != "original" {
		t.Errorf("update_task = %v", got)
	}
}

func TestDeleteTask(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	owned, err := store.Create("u1", "temp")
	if err != nil {
		t.Fatal(err)
	}

	got := r.Execute(ctx, "delete_task", map[string]any{
		CallerKey: "u1",
		"task_id": float64(owned.ID),
	})
	if got["message"] != "Task 'temp' deleted successfully" {
		t.Errorf("delete_task = %v", got)
	}

	listed := r.Execute(ctx, "list_tasks", map[string]any{CallerKey: "u1"})
	if listed["count"] != 0 {
		t.Errorf("list after delete count = %v, want 0", listed["count"])
	}
}

func TestMissingArguments(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		tool string
		args map[string]any
	}{
		{"list_tasks", map[string]any{}},
		{"create_task", map[string]any{CallerKey: "u1"}},
		{"get_task", map[string]any{CallerKey: "u1"}},
		{"update_task", map[string]any{CallerKey: "u1", "task_id": "not-a-number"}},
		{"delete_task", map[string]any{CallerKey: "u1"}},
	}

	for _, tc := range tests {
		got := r.Execute(ctx, tc.tool, tc.args)
		if got["error"] == nil {
			t.Errorf("%s with %v succeeded, want error payload", tc.tool, tc.args)
		}
	}
}

func TestQuotedTaskID(t *testing.T) {
	r, store := newTestRegistry(t)

	owned, err := store.Create("u1", "quoted")
	if err != nil {
		t.Fatal(err)
	}

	// Models sometimes quote numeric ids; they should still resolve.
	got := r.Execute(context.Background(), "get_task", map[string]any{
		CallerKey: "u1",
		"task_id": "1",
	})
	if got["error"] != nil {
		t.Errorf("get_task with quoted id = %v", got)
	}
	if got["title"] != "quoted" {
		t.Errorf("title = %v (task id %d)", got["title"], owned.ID)
	}
}

func TestDefinitions(t *testing.T) {
	r, _ := newTestRegistry(t)

	defs := r.Definitions()
	if len(defs) != 5 {
		t.Fatalf("len(Definitions()) = %d, want 5", len(defs))
	}

	names := make(map[string]bool)
	for _, def := range defs {
		fn, ok := def["function"].(map[string]any)
		if !ok {
			t.Fatalf("definition missing function block: %v", def)
		}
		names[fn["name"].(string)] = true

		params := fn["parameters"].(map[string]any)
		required, _ := params["required"].([]string)
		found := false
		for _, req := range required {
			if req == CallerKey {
				found = true
			}
		}
		if !found {
			t.Errorf("%s does not require %s", fn["name"], CallerKey)
		}
	}

	for _, want := range []string{"list_tasks", "create_task", "update_task", "delete_task", "get_task"} {
		if !names[want] {
			t.Errorf("missing tool definition %q", want)
		}
	}
}

type recordingPublisher struct {
	published []string
}

func (p *recordingPublisher) PublishTask(ctx context.Context, eventType string, tk *task.Task) {
	p.published = append(p.published, eventType+":"+tk.Title)
}

func TestMutationsEmitEvents(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := task.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	pub := &recordingPublisher{}
	r := NewRegistry(store, pub, nil)
	ctx := context.Background()

	created := r.Execute(ctx, "create_task", map[string]any{CallerKey: "u-1", "title": "walk dog"})
	if created["error"] != nil {
		t.Fatalf("create_task failed: %v", created)
	}
	id := created["id"].(int64)

	r.Execute(ctx, "update_task", map[string]any{CallerKey: "u-1", "task_id": id, "completed": true})
	r.Execute(ctx, "delete_task", map[string]any{CallerKey: "u-1", "task_id": id})

	// Reads emit nothing.
	r.Execute(ctx, "list_tasks", map[string]any{CallerKey: "u-1"})

	want := []string{
		events.TaskCreated + ":walk dog",
		events.TaskCompleted + ":walk dog",
		events.TaskDeleted + ":walk dog",
	}
	if len(pub.published) != len(want) {
		t.Fatalf("published = %v, want %v", pub.published, want)
	}
	for i := range want {
		if pub.published[i] != want[i] {
			t.Errorf("published[%d] = %q, want %q", i, pub.published[i], want[i])
		}
	}
}
