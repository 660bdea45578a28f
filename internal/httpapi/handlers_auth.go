package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ringcast/ringcast/internal/apperr"
	"github.com/ringcast/ringcast/internal/store"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	TokenPair
	User userView `json:"user"`
}

type userView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "password must be at least 8 characters")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "could not hash password")
		return
	}

	u := store.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			respondError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
			return
		}
		s.log.Error("create user failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not create account")
		return
	}

	// Seed the trial usage row so the first permission check is warm.
	if _, err := s.store.GetUsage(r.Context(), u.ID); err != nil {
		s.log.Warn("usage init failed", "user_id", u.ID, "error", err)
	}

	s.respondWithTokens(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "invalid request body")
		return
	}

	u, err := s.store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		respondError(w, http.StatusUnauthorized, apperr.CodeInvalidToken, "invalid credentials")
		return
	}
	ok, err := CheckPassword(req.Password, u.PasswordHash)
	if err != nil || !ok || !u.Active {
		respondError(w, http.StatusUnauthorized, apperr.CodeInvalidToken, "invalid credentials")
		return
	}

	s.respondWithTokens(w, http.StatusOK, u)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "refresh_token is required")
		return
	}

	claims, err := ParseToken([]byte(s.cfg.SecretKey), req.RefreshToken, tokenTypeRefresh)
	if err != nil {
		respondAppError(w, err)
		return
	}
	u, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil || !u.Active {
		respondError(w, http.StatusUnauthorized, apperr.CodeInvalidToken, "account no longer active")
		return
	}

	s.respondWithTokens(w, http.StatusOK, u)
}

func (s *Server) respondWithTokens(w http.ResponseWriter, status int, u store.User) {
	pair, err := IssueTokens([]byte(s.cfg.SecretKey), u.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "could not issue tokens")
		return
	}
	respondJSON(w, status, authResponse{
		TokenPair: pair,
		User:      userView{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName},
	})
}
