package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/alecgard/tokentrack/internal/auth"
	"github.com/alecgard/tokentrack/internal/metrics"
	"github.com/alecgard/tokentrack/internal/user"
)

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	store   UserStore
	tokens  *auth.TokenService
	metrics *metrics.Metrics
}

func newAuthHandler(store UserStore, tokens *auth.TokenService, m *metrics.Metrics) *authHandler {
	return &authHandler{store: store, tokens: tokens, metrics: m}
}

type sessionResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      *user.User `json:"user"`
}

// validateAccount checks the fields shared by registration and profile
// updates. Empty values are only checked when required is set.
func validateAccount(name, email, password string, required bool) string {
	if required || name != "" {
		if n := len(strings.TrimSpace(name)); n == 0 || n > 50 {
			return "name is required and must be at most 50 characters"
		}
	}
	if required || email != "" {
		if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
			return "a valid email is required"
		}
	}
	if required || password != "" {
		if len(password) < user.MinPasswordLength {
			return "password must be at least 6 characters"
		}
	}
	return ""
}

// Register handles POST /api/auth/register.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req user.CreateUserInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if msg := validateAccount(req.Name, req.Email, req.Password, true); msg != "" {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	u, err := h.store.Create(r.Context(), req)
	if errors.Is(err, user.ErrEmailTaken) {
		writeError(w, http.StatusBadRequest, "email_taken", "User already exists")
		return
	}
	if err != nil {
		slog.Error("registering user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create user")
		return
	}

	auditLog(r, "register", "user", u.ID, "email", u.Email)
	h.respondWithSession(w, r, u, http.StatusCreated)
}

// Login handles POST /api/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	u, err := h.store.GetByEmail(r.Context(), req.Email)
	if err != nil || !user.CheckPassword(u, req.Password) {
		if err != nil && !errors.Is(err, user.ErrNotFound) {
			slog.Error("looking up user for login", "error", err)
		}
		if h.metrics != nil {
			h.metrics.IncAuthFailure("login")
		}
		auditLog(r, "login_failed", "user", "", "email", user.NormalizeEmail(req.Email))
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials")
		return
	}

	if h.metrics != nil {
		h.metrics.IncAuthSuccess("login")
	}
	h.respondWithSession(w, r, u, http.StatusOK)
}

func (h *authHandler) respondWithSession(w http.ResponseWriter, r *http.Request, u *user.User, status int) {
	token, expiresAt, err := h.tokens.Issue(u.ID)
	if err != nil {
		slog.Error("issuing token", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue token")
		return
	}
	writeJSON(w, status, sessionResponse{Token: token, ExpiresAt: expiresAt, User: u})
}

// Me handles GET /api/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	au := auth.UserFromContext(r.Context())
	if au == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	u, err := h.store.GetByID(r.Context(), au.ID)
	if errors.Is(err, user.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	if err != nil {
		slog.Error("getting current user", "user_id", au.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateProfile handles PUT /api/auth/profile.
func (h *authHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	au := auth.UserFromContext(r.Context())
	if au == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	var req user.UpdateUserInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	var name, email, password string
	if req.Name != nil {
		name = *req.Name
		if strings.TrimSpace(name) == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "name must not be empty")
			return
		}
	}
	if req.Email != nil {
		email = *req.Email
		if email == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "a valid email is required")
			return
		}
	}
	if req.Password != nil {
		password = *req.Password
		if password == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "password must be at least 6 characters")
			return
		}
	}
	if msg := validateAccount(name, email, password, false); msg != "" {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	u, err := h.store.Update(r.Context(), au.ID, req)
	switch {
	case errors.Is(err, user.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "email_taken", "email already in use")
		return
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	case err != nil:
		slog.Error("updating profile", "user_id", au.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update profile")
		return
	}

	auditLog(r, "update_profile", "user", u.ID, "password_changed", req.Password != nil)
	writeJSON(w, http.StatusOK, u)
}
