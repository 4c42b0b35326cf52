// Package agent implements the chat orchestration loop.
//
// One Process call binds an authenticated caller and their message to
// a single remote assistant run: it adopts or creates the thread,
// starts the run, polls it under a hard iteration bound, executes the
// tool calls the run blocks on, and assembles the assistant's reply
// together with an audit trail of every action taken.
//
// The one security-critical step lives here: before any tool call is
// dispatched, the authenticated user id is written over whatever the
// model put in the arguments. Nothing the model generates can select
// whose data a tool touches.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskpilot/taskpilot/internal/assistant"
	"github.com/taskpilot/taskpilot/internal/tools"
)

// ErrMaxIterations marks a run that never reached a terminal status
// within the poll budget. It is distinct from provider-reported
// failure: the run may still be going, but we stop watching it.
var ErrMaxIterations = errors.New("agent exceeded maximum iterations")

// Action is one executed tool invocation, recorded post-injection for
// the audit trail returned to the caller.
type Action struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}

// Result is a successful orchestration outcome.
type Result struct {
	Message  string   `json:"message"`
	Actions  []Action `json:"actions"`
	ThreadID string   `json:"thread_id"`
}

// Error is the orchestrator's failure value. ThreadID is carried so the
// caller can resume the same conversation on a later request; it is
// empty only when failure preceded thread creation.
type Error struct {
	ThreadID string
	Message  string
	cause    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// Processor drives assistant runs. It holds no per-request state;
// every Process call is independent and safe to run concurrently.
type Processor struct {
	client        assistant.Client
	registry      *tools.Registry
	pollInterval  time.Duration
	maxIterations int
	logger        *slog.Logger
}

// NewProcessor creates an orchestrator. pollInterval is the backoff
// between run status polls; maxIterations bounds the poll loop.
func NewProcessor(client assistant.Client, registry *tools.Registry, pollInterval time.Duration, maxIterations int, logger *slog.Logger) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if maxIterations <= 0 {
		maxIterations = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		client:        client,
		registry:      registry,
		pollInterval:  pollInterval,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Process runs one caller message against the assistant. An empty
// threadID creates a new remote thread; otherwise the existing thread
// is reused so the assistant sees the full conversation.
//
// All failures come back as *Error values; Process never panics past
// its boundary, and no failure is retried here. The poll loop retries
// status checks only, never the run itself.
func (p *Processor) Process(ctx context.Context, userID, message, threadID string) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("orchestrator panic", "panic", rec, "user", userID)
			result = nil
			err = &Error{ThreadID: threadID, Message: fmt.Sprintf("Chat service error: %v", rec)}
		}
	}()

	logger := p.logger.With("user", userID)

	if threadID == "" {
		id, err := p.client.CreateThread(ctx)
		if err != nil {
			return nil, &Error{Message: fmt.Sprintf("Chat service error: %v", err), cause: err}
		}
		threadID = id
		logger.Info("created thread", "thread", threadID)
	}
	logger = logger.With("thread", threadID)

	if err := p.client.AddMessage(ctx, threadID, "user", message); err != nil {
		return nil, p.failure(threadID, err)
	}

	run, err := p.client.CreateRun(ctx, threadID)
	if err != nil {
		return nil, p.failure(threadID, err)
	}
	logger = logger.With("run", run.ID)
	logger.Debug("run started", "status", run.Status)

	var actions []Action

	for iteration := 0; !assistant.IsTerminal(run.Status); {
		iteration++
		if iteration > p.maxIterations {
			logger.Warn("poll budget exhausted", "iterations", p.maxIterations, "status", run.Status)
			return nil, &Error{
				ThreadID: threadID,
				Message:  "Agent exceeded maximum iterations",
				cause:    ErrMaxIterations,
			}
		}

		if err := p.wait(ctx); err != nil {
			return nil, p.failure(threadID, err)
		}

		run, err = p.client.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, p.failure(threadID, err)
		}

		if run.Status == assistant.StatusRequiresAction {
			run, err = p.executeToolCalls(ctx, logger, threadID, run, userID, &actions)
			if err != nil {
				return nil, p.failure(threadID, err)
			}
		}
	}

	if run.Status == assistant.StatusCompleted {
		text, err := p.client.LatestAssistantMessage(ctx, threadID)
		if err != nil {
			return nil, p.failure(threadID, err)
		}
		logger.Info("run completed", "actions", len(actions))
		return &Result{
			Message:  text,
			Actions:  actions,
			ThreadID: threadID,
		}, nil
	}

	logger.Warn("run ended without completing", "status", run.Status)
	msg := fmt.Sprintf("Agent execution failed with status: %s", run.Status)
	if run.LastError != nil && run.LastError.Message != "" {
		msg = fmt.Sprintf("%s (%s)", msg, run.LastError.Message)
	}
	return nil, &Error{ThreadID: threadID, Message: msg}
}

// executeToolCalls runs every pending tool call of a blocked run and
// resumes it with the collected outputs in one batch.
func (p *Processor) executeToolCalls(ctx context.Context, logger *slog.Logger, threadID string, run *assistant.Run, userID string, actions *[]Action) (*assistant.Run, error) {
	if run.RequiredAction == nil {
		return nil, fmt.Errorf("run %s requires action but carries none", run.ID)
	}

	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	outputs := make([]assistant.ToolOutput, 0, len(calls))

	for _, call := range calls {
		name := call.Function.Name

		// Model output is untrusted JSON; malformed arguments degrade
		// to an empty set rather than aborting the run.
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			logger.Debug("malformed tool arguments", "tool", name, "error", err)
			args = nil
		}
		if args == nil {
			args = make(map[string]any)
		}

		// Identity injection: the authenticated caller overwrites
		// whatever user id the model supplied.
		args[tools.CallerKey] = userID

		result := p.registry.Execute(ctx, name, args)
		logger.Info("tool executed", "tool", name, "error", result["error"])

		*actions = append(*actions, Action{
			Tool:      name,
			Arguments: args,
			Result:    result,
		})

		output, err := json.Marshal(result)
		if err != nil {
			output = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		outputs = append(outputs, assistant.ToolOutput{
			ToolCallID: call.ID,
			Output:     string(output),
		})
	}

	return p.client.SubmitToolOutputs(ctx, threadID, run.ID, outputs)
}

// wait sleeps for one poll interval, honoring context cancellation.
func (p *Processor) wait(ctx context.Context) error {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Processor) failure(threadID string, err error) *Error {
	return &Error{
		ThreadID: threadID,
		Message:  fmt.Sprintf("Chat service error: %v", err),
		cause:    err,
	}
}
