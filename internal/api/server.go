// Package api implements the HTTP API: auth, task CRUD, and chat.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/buildinfo"
	"github.com/taskpilot/taskpilot/internal/conversation"
	"github.com/taskpilot/taskpilot/internal/events"
	"github.com/taskpilot/taskpilot/internal/task"
	"github.com/taskpilot/taskpilot/internal/user"
)

// Orchestrator runs one chat message against the remote assistant.
// Implemented by [agent.Processor]; stubbed in tests.
type Orchestrator interface {
	Process(ctx context.Context, userID, message, threadID string) (*agent.Result, error)
}

// Server is the HTTP API server.
type Server struct {
	listen        string
	users         *user.Store
	tasks         *task.Store
	conversations *conversation.Store
	verifier      *auth.Verifier
	orchestrator  Orchestrator
	events        events.Publisher
	logger        *slog.Logger
	server        *http.Server
	chatLocks     callerLocks
}

// NewServer creates an API server. pub may be nil when task eventing
// is disabled.
func NewServer(listen string, users *user.Store, tasks *task.Store, conversations *conversation.Store, verifier *auth.Verifier, orchestrator Orchestrator, pub events.Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen:        listen,
		users:         users,
		tasks:         tasks,
		conversations: conversations,
		verifier:      verifier,
		orchestrator:  orchestrator,
		events:        pub,
		logger:        logger,
	}
}

// Handler builds the full route table. Exposed so tests can drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protect := auth.Middleware(s.verifier, s.logger)

	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/signin", s.handleSignin)

	mux.Handle("GET /api/tasks", protect(http.HandlerFunc(s.handleListTasks)))
	mux.Handle("POST /api/tasks", protect(http.HandlerFunc(s.handleCreateTask)))
	mux.Handle("GET /api/tasks/{id}", protect(http.HandlerFunc(s.handleGetTask)))
	mux.Handle("PUT /api/tasks/{id}", protect(http.HandlerFunc(s.handleUpdateTask)))
	mux.Handle("DELETE /api/tasks/{id}", protect(http.HandlerFunc(s.handleDeleteTask)))
	mux.Handle("PATCH /api/tasks/{id}/complete", protect(http.HandlerFunc(s.handleCompleteTask)))

	mux.Handle("POST /api/chat", protect(http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /api/chat/history", protect(http.HandlerFunc(s.handleChatHistory)))

	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or [Server.Shutdown] is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // chat requests poll a remote run
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":    "taskpilot",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeJSON encodes v to w. Encode errors typically mean the client
// disconnected mid-response, which is not actionable.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) writeData(w http.ResponseWriter, code int, v any) {
	s.writeJSON(w, code, map[string]any{"data": v})
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

// callerLocks serializes chat requests per authenticated caller so two
// concurrent messages from one user cannot race on thread creation.
// Entries are never removed; the map is bounded by the caller
// population.
type callerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (c *callerLocks) get(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks == nil {
		c.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}
