package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/user"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func userPayload(u *user.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"created_at": u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		s.writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		s.writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	u, err := s.users.Create(req.Email, hash)
	if errors.Is(err, user.ErrEmailTaken) {
		s.writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	if err != nil {
		s.logger.Error("create user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	token, err := s.verifier.Mint(u.ID, u.Email)
	if err != nil {
		s.logger.Error("mint token", "error", err, "user", u.ID)
		s.writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	s.logger.Info("user registered", "user", u.ID, "email", u.Email)
	s.writeData(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  userPayload(u),
	})
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Unknown email and wrong password respond identically so accounts
	// cannot be enumerated.
	u, err := s.users.GetByEmail(req.Email)
	if errors.Is(err, user.ErrNotFound) {
		s.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		s.logger.Error("look up user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}
	if !auth.CheckPassword(req.Password, u.PasswordHash) {
		s.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := s.verifier.Mint(u.ID, u.Email)
	if err != nil {
		s.logger.Error("mint token", "error", err, "user", u.ID)
		s.writeError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	s.writeData(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userPayload(u),
	})
}
