package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/httpkit"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	betaHeader     = "assistants=v2"
)

// HTTPClient talks to the Assistants API over HTTP.
type HTTPClient struct {
	apiKey      string
	assistantID string
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewHTTPClient creates a provider client. baseURL may be empty for the
// production endpoint; tests point it at an httptest server.
func NewHTTPClient(apiKey, assistantID, baseURL string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// Run creation can take a while before headers arrive. Use the
	// shared transport with a generous response header budget and rely
	// on ctx deadlines for overall timeout control.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &HTTPClient{
		apiKey:      apiKey,
		assistantID: assistantID,
		baseURL:     baseURL,
		logger:      logger.With("provider", "assistants"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// do sends one API request and decodes the response into out (when
// out is non-nil). Non-2xx responses are returned as errors with the
// provider's message attached.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		c.logger.Log(ctx, config.LevelTrace, "request payload", "path", path, "json", string(data))
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", betaHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "path", path, "body", errBody)
		return fmt.Errorf("assistants API error %d: %s", resp.StatusCode, errBody)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CreateThread creates a new remote thread and returns its id.
func (c *HTTPClient) CreateThread(ctx context.Context) (string, error) {
	var thread struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "POST", "/threads", map[string]any{}, &thread); err != nil {
		return "", err
	}
	c.logger.Debug("thread created", "thread_id", thread.ID)
	return thread.ID, nil
}

// AddMessage appends a message to a thread.
func (c *HTTPClient) AddMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	return c.do(ctx, "POST", "/threads/"+threadID+"/messages", body, nil)
}

// CreateRun starts the configured assistant against a thread.
func (c *HTTPClient) CreateRun(ctx context.Context, threadID string) (*Run, error) {
	var run Run
	body := map[string]string{"assistant_id": c.assistantID}
	if err := c.do(ctx, "POST", "/threads/"+threadID+"/runs", body, &run); err != nil {
		return nil, err
	}
	c.logger.Debug("run created", "thread_id", threadID, "run_id", run.ID, "status", run.Status)
	return &run, nil
}

// GetRun fetches the current state of a run.
func (c *HTTPClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	if err := c.do(ctx, "GET", "/threads/"+threadID+"/runs/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SubmitToolOutputs resumes a blocked run with executed tool results.
func (c *HTTPClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	var run Run
	body := map[string]any{"tool_outputs": outputs}
	path := "/threads/" + threadID + "/runs/" + runID + "/submit_tool_outputs"
	if err := c.do(ctx, "POST", path, body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestAssistantMessage returns the text of the newest message in a thread.
func (c *HTTPClient) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	var list struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	path := "/threads/" + threadID + "/messages?order=desc&limit=1"
	if err := c.do(ctx, "GET", path, nil, &list); err != nil {
		return "", err
	}

	if len(list.Data) == 0 {
		return "", fmt.Errorf("thread %s has no messages", threadID)
	}
	for _, part := range list.Data[0].Content {
		if part.Type == "text" {
			return part.Text.Value, nil
		}
	}
	return "", fmt.Errorf("newest message in thread %s has no text content", threadID)
}

// CreateAssistant provisions the remote assistant with the system
// prompt and tool definitions. Used by the create-assistant command;
// the returned id goes in config.
func (c *HTTPClient) CreateAssistant(ctx context.Context, name, model string, tools []map[string]any) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"name":         name,
		"model":        model,
		"instructions": SystemPrompt,
		"tools":        tools,
	}
	if err := c.do(ctx, "POST", "/assistants", body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}
