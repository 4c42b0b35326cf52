package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/conversation"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Message  string         `json:"message"`
	Actions  []agent.Action `json:"actions"`
	ThreadID string         `json:"thread_id"`
}

// handleChat runs one conversational exchange. The caller's turn is
// persisted before orchestration so the history survives a failed run;
// a turn appended before the remote thread exists carries an empty
// thread id that is stamped in once the run creates one.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if len(req.Message) > conversation.MaxContentLength {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Message exceeds maximum length of %d characters", conversation.MaxContentLength))
		return
	}

	// One exchange at a time per caller; concurrent messages would race
	// on thread creation and interleave runs on one thread.
	lock := s.chatLocks.get(identity.UserID)
	lock.Lock()
	defer lock.Unlock()

	threadID, hasThread, err := s.conversations.LatestThreadID(identity.UserID)
	if err != nil {
		s.logger.Error("look up thread", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	userTurn := &conversation.Turn{
		UserID:   identity.UserID,
		ThreadID: threadID,
		Role:     conversation.RoleUser,
		Content:  req.Message,
	}
	if err := s.conversations.Append(userTurn); err != nil {
		s.logger.Error("persist user turn", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	result, err := s.orchestrator.Process(r.Context(), identity.UserID, req.Message, threadID)
	if err != nil {
		s.logger.Error("orchestration failed", "error", err, "user", identity.UserID)
		var agentErr *agent.Error
		if errors.As(err, &agentErr) && agentErr.ThreadID != "" {
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":     agentErr.Message,
				"thread_id": agentErr.ThreadID,
			})
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	if !hasThread {
		if err := s.conversations.AssignThread(userTurn.ID, result.ThreadID); err != nil {
			s.logger.Warn("assign thread to turn", "error", err, "turn", userTurn.ID)
		}
	}

	var toolCalls string
	if len(result.Actions) > 0 {
		if encoded, err := json.Marshal(result.Actions); err == nil {
			toolCalls = string(encoded)
		}
	}
	assistantTurn := &conversation.Turn{
		UserID:    identity.UserID,
		ThreadID:  result.ThreadID,
		Role:      conversation.RoleAssistant,
		Content:   result.Message,
		ToolCalls: toolCalls,
	}
	if err := s.conversations.Append(assistantTurn); err != nil {
		s.logger.Error("persist assistant turn", "error", err, "user", identity.UserID)
	}

	actions := result.Actions
	if actions == nil {
		actions = []agent.Action{}
	}
	s.writeData(w, http.StatusOK, chatResponse{
		Message:  result.Message,
		Actions:  actions,
		ThreadID: result.ThreadID,
	})
}

type turnPayload struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	turns, err := s.conversations.History(identity.UserID, limit)
	if err != nil {
		s.logger.Error("list history", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}

	payloads := make([]turnPayload, 0, len(turns))
	for _, turn := range turns {
		payloads = append(payloads, turnPayload{
			ID:        turn.ID,
			ThreadID:  turn.ThreadID,
			Role:      turn.Role,
			Content:   turn.Content,
			ToolCalls: json.RawMessage(turn.ToolCalls),
			CreatedAt: turn.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	s.writeData(w, http.StatusOK, payloads)
}
