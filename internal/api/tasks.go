package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/events"
	"github.com/taskpilot/taskpilot/internal/task"
)

const taskNotFoundMsg = "Task not found or not owned by user"

func (s *Server) publishTask(r *http.Request, eventType string, t *task.Task) {
	if s.events != nil {
		s.events.PublishTask(r.Context(), eventType, t)
	}
}

// taskID parses the {id} path value. A non-numeric id cannot match any
// task, so it reports the uniform not-found message rather than a
// parse error.
func taskID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

func validateTitle(title string) error {
	if title == "" {
		return errors.New("Title is required")
	}
	if len(title) > task.MaxTitleLength {
		return fmt.Errorf("Title exceeds maximum length of %d characters", task.MaxTitleLength)
	}
	return nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	tasks, err := s.tasks.List(identity.UserID)
	if err != nil {
		s.logger.Error("list tasks", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	s.writeData(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateTitle(req.Title); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.tasks.Create(identity.UserID, req.Title)
	if err != nil {
		s.logger.Error("create task", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	s.publishTask(r, events.TaskCreated, t)
	s.writeData(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	id, ok := taskID(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, taskNotFoundMsg)
		return
	}

	t, err := s.tasks.Get(identity.UserID, id)
	if errors.Is(err, task.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, taskNotFoundMsg)
		return
	}
	if err != nil {
		s.logger.Error("get task", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to get task")
		return
	}
	s.writeData(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	id, ok := taskID(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, taskNotFoundMsg)
		return
	}

	var req struct {
		Title     *string `json:"title"`
		Completed *bool   `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title != nil {
		if err := validateTitle(*req.Title); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	t, err := s.tasks.Update(identity.UserID, id, req.Title, req.Completed)
	if errors.Is(err, task.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, taskNotFoundMsg)
		return
	}
	if err != nil {
		s.logger.Error("update task", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}

	eventType := events.TaskUpdated
	if req.Completed != nil && *req.Completed {
		eventType = events.TaskCompleted
	}
	s.publishTask(r, eventType, t)
	s.writeData(w, http.StatusOK, t)
}

// handleCompleteTask toggles the completion flag.
func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	id, ok := taskID(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, taskNotFoundMsg)
		return
	}

	current, err := s.tasks.Get(identity.UserID, id)
	if errors.Is(err, task.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, taskNotFoundMsg)
		return
	}
	if err != nil {
		s.logger.Error("get task", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}

	completed := !current.Completed
	t, err := s.tasks.Update(identity.UserID, id, nil, &completed)
	if err != nil {
		s.logger.Error("toggle task", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}

	eventType := events.TaskUpdated
	if t.Completed {
		eventType = events.TaskCompleted
	}
	s.publishTask(r, eventType, t)
	s.writeData(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	id, ok := taskID(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, taskNotFoundMsg)
		return
	}

	t, err := s.tasks.Delete(identity.UserID, id)
	if errors.Is(err, task.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, taskNotFoundMsg)
		return
	}
	if err != nil {
		s.logger.Error("delete task", "error", err, "user", identity.UserID)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}

	s.publishTask(r, events.TaskDeleted, t)
	s.writeData(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Task '%s' deleted successfully", t.Title),
	})
}
