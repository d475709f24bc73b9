package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/auth"
	"github.com/heartline/server/internal/profile"
	"github.com/heartline/server/internal/ratelimit"
)

type credentials struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Login    string `json:"login"` // email or phone, for /auth/login
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Email == "" && req.Phone == "" {
		writeValidation(w, "email", "email or phone is required")
		return
	}
	if req.Email != "" && !strings.Contains(req.Email, "@") {
		writeValidation(w, "email", "not an email address")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrWeakPassword) {
		writeValidation(w, "password", "must be at least 8 characters")
		return
	}
	if err != nil {
		s.logger.Error("hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	user, err := s.Users.CreateUser(r.Context(), req.Email, req.Phone, hash)
	if errors.Is(err, profile.ErrDuplicate) {
		writeError(w, http.StatusConflict, "already_registered")
		return
	}
	if err != nil {
		s.logger.Error("create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	s.issueToken(w, r, user.ID, http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	login := strings.TrimSpace(req.Login)
	if login == "" {
		login = strings.TrimSpace(req.Email + req.Phone)
	}
	if login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if strings.Contains(login, "@") {
		login = strings.ToLower(login)
	}

	user, err := s.Users.UserByLogin(r.Context(), login)
	if errors.Is(err, profile.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		s.logger.Error("load user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if user.DeactivatedAt != nil {
		writeError(w, http.StatusForbidden, "deactivated")
		return
	}

	// A successful login clears the address's earlier failed attempts.
	if s.Limiter != nil {
		if err := s.Limiter.Reset(r.Context(), s.clientAddr(r), ratelimit.RuleLogin); err != nil {
			s.logger.Warn("reset login limit", zap.Error(err))
		}
	}
	s.issueToken(w, r, user.ID, http.StatusOK)
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, userID string, status int) {
	token, claims, err := s.Sessions.Login(r.Context(), userID)
	if err != nil {
		s.logger.Error("issue token", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, status, tokenResponse{
		Token:     token,
		UserID:    userID,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Logout(r.Context(), claimsFrom(r.Context())); err != nil {
		s.logger.Error("logout", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeactivate hides the caller from matching, ends their session and
// closes their streams.
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	uid := userIDFrom(r.Context())
	if err := s.Users.Deactivate(r.Context(), uid); err != nil && !errors.Is(err, profile.ErrNotFound) {
		s.logger.Error("deactivate", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if err := s.Sessions.Logout(r.Context(), claimsFrom(r.Context())); err != nil {
		s.logger.Warn("logout after deactivate", zap.String("user_id", uid), zap.Error(err))
	}
	if s.Stream != nil {
		s.Stream.DisconnectUser(uid)
	}
	w.WriteHeader(http.StatusNoContent)
}
