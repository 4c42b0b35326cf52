// Package assistant provides the remote assistant provider client.
//
// The wire surface is the OpenAI Assistants v2 API: threads hold the
// conversation server-side, runs execute the assistant against a
// thread, and a run blocked in requires_action hands back tool calls
// for local execution. The [Client] interface is what the orchestrator
// depends on; [HTTPClient] is the production implementation.
package assistant

import "context"

// Run statuses reported by the provider.
const (
	StatusQueued         = "queued"
	StatusInProgress     = "in_progress"
	StatusRequiresAction = "requires_action"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
	StatusExpired        = "expired"
)

// IsTerminal reports whether a run status is final. A terminal run will
// never change status again; polling past it is pointless.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ToolCall is one pending tool invocation requested by a blocked run.
// Arguments is the raw JSON payload produced by the model and must be
// treated as untrusted input.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// RequiredAction carries the tool calls a run is blocked on.
type RequiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []ToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

// RunError is the provider's failure detail on a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is the state of one assistant execution against a thread.
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	Status         string          `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`
}

// ToolOutput is one executed tool result submitted back to a run.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Client is the provider surface the orchestrator depends on. Tests
// substitute a stub; production uses [HTTPClient].
type Client interface {
	// CreateThread creates a new remote thread and returns its id.
	CreateThread(ctx context.Context) (string, error)

	// AddMessage appends a message to a thread.
	AddMessage(ctx context.Context, threadID, role, content string) error

	// CreateRun starts the configured assistant against a thread.
	CreateRun(ctx context.Context, threadID string) (*Run, error)

	// GetRun fetches the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)

	// SubmitToolOutputs resumes a blocked run with executed tool results.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)

	// LatestAssistantMessage returns the text of the newest message in
	// a thread, expected to be assistant-authored after a completed run.
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}
