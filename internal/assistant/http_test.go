package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient("sk-test", "asst_test", srv.URL, nil)
}

func TestCreateThread(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/threads" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
			t.Errorf("OpenAI-Beta = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "thread_abc"})
	})

	id, err := client.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if id != "thread_abc" {
		t.Errorf("thread id = %q, want thread_abc", id)
	}
}

func TestCreateRunCarriesAssistantID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["assistant_id"] != "asst_test" {
			t.Errorf("assistant_id = %q", body["assistant_id"])
		}
		json.NewEncoder(w).Encode(Run{ID: "run_1", Status: StatusQueued})
	})

	run, err := client.CreateRun(context.Background(), "thread_abc")
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID != "run_1" || run.Status != StatusQueued {
		t.Errorf("run = %+v", run)
	}
}

func TestGetRunRequiresAction(t *testing.T) {
	const payload = `{
		"id": "run_1",
		"status": "requires_action",
		"required_action": {
			"type": "submit_tool_outputs",
			"submit_tool_outputs": {
				"tool_calls": [
					{"id": "call_1", "type": "function",
					 "function": {"name": "create_task", "arguments": "{\"title\":\"buy milk\"}"}}
				]
			}
		}
	}`

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	})

	run, err := client.GetRun(context.Background(), "thread_abc", "run_1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != StatusRequiresAction {
		t.Fatalf("Status = %q", run.Status)
	}
	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	if len(calls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(calls))
	}
	if calls[0].Function.Name != "create_task" {
		t.Errorf("tool name = %q", calls[0].Function.Name)
	}
	if !strings.Contains(calls[0].Function.Arguments, "buy milk") {
		t.Errorf("arguments = %q", calls[0].Function.Arguments)
	}
}

func TestSubmitToolOutputs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/submit_tool_outputs") {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			ToolOutputs []ToolOutput `json:"tool_outputs"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.ToolOutputs) != 2 {
			t.Errorf("len(tool_outputs) = %d, want 2", len(body.ToolOutputs))
		}
		json.NewEncoder(w).Encode(Run{ID: "run_1", Status: StatusInProgress})
	})

	outputs := []ToolOutput{
		{ToolCallID: "call_1", Output: `{"id":1}`},
		{ToolCallID: "call_2", Output: `{"id":2}`},
	}
	run, err := client.SubmitToolOutputs(context.Background(), "thread_abc", "run_1", outputs)
	if err != nil {
		t.Fatalf("SubmitToolOutputs() error = %v", err)
	}
	if run.Status != StatusInProgress {
		t.Errorf("Status = %q", run.Status)
	}
}

func TestLatestAssistantMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order") != "desc" || r.URL.Query().Get("limit") != "1" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[{"role":"assistant","content":[
			{"type":"text","text":{"value":"Done! I created the task."}}]}]}`))
	})

	text, err := client.LatestAssistantMessage(context.Background(), "thread_abc")
	if err != nil {
		t.Fatalf("LatestAssistantMessage() error = %v", err)
	}
	if text != "Done! I created the task." {
		t.Errorf("text = %q", text)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	})

	_, err := client.CreateThread(context.Background())
	if err == nil {
		t.Fatal("CreateThread() succeeded on a 429")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %v, want status and body", err)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{StatusCompleted, StatusFailed, StatusCancelled, StatusExpired}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false", s)
		}
	}
	for _, s := range []string{StatusQueued, StatusInProgress, StatusRequiresAction} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true", s)
		}
	}
}
