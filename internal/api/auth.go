package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/pautahq/newsbot/internal/auth"
)

const minPasswordLen = 8

type authHandler struct {
	service *auth.Service
	logger  *slog.Logger
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// signup registers a new account.
func (h *authHandler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_email", "email address is not valid")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "weak_password", "password must be at least 8 characters")
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
			return
		}
		h.logger.Error("signup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create account")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// token authenticates an email/password pair and issues a bearer token.
func (h *authHandler) token(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect email or password")
			return
		}
		h.logger.Error("authentication failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not authenticate")
		return
	}

	signed, err := h.service.IssueToken(user)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: signed, TokenType: "bearer"})
}
