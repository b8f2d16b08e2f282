// Package handlers serves the authority sign-in API.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/middleware"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

type Handler struct {
	gate *auth.Gate
}

func New(gate *auth.Gate) *Handler {
	return &Handler{gate: gate}
}

// Mount registers the /api/auth routes on r. Signup and login are rate
// limited per client IP.
func (h *Handler) Mount(r chi.Router, rateReqs int, rateWindow time.Duration) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(rateReqs, rateWindow))
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(h.gate.Provider()))
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
		})
	})
}

type sessionPayload struct {
	Token     string           `json:"token,omitempty"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      auth.Identity    `json:"user"`
	Authority models.Authority `json:"authority"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var input auth.AuthorityRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		logging.Ctx(r.Context()).Warn().Msg("invalid signup payload")
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if strings.TrimSpace(input.Email) == "" || input.Password == "" || strings.TrimSpace(input.Name) == "" {
		response.Error(w, http.StatusBadRequest, "Name, Email and Password are required", "")
		return
	}

	authority, err := h.gate.Bootstrap(r.Context(), input)
	if err != nil {
		response.FromError(w, r, "Failed to create authority account", err)
		return
	}
	response.Success(w, http.StatusCreated, "Authority account created. Please sign in.", authority)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var input auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		logging.Ctx(r.Context()).Warn().Msg("invalid login payload")
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if strings.TrimSpace(input.Email) == "" || input.Password == "" {
		response.Error(w, http.StatusBadRequest, "Email and Password are required", "")
		return
	}

	session, authority, err := h.gate.SignIn(r.Context(), input.Email, input.Password)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("failed login attempt")
		response.FromError(w, r, "Login failed", err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("user_id", session.Identity.UserID).Str("authority_id", authority.AuthorityID).Msg("authority logged in")
	response.Success(w, http.StatusOK, "Login successful", sessionPayload{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      session.Identity,
		Authority: authority,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Failed to retrieve user context", "")
		return
	}
	if err := h.gate.Provider().SignOut(r.Context(), session); err != nil {
		response.FromError(w, r, "Failed to sign out", err)
		return
	}
	response.Success(w, http.StatusOK, "Signed out", nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Failed to retrieve user context", "")
		return
	}
	authority, err := h.gate.Authorize(r.Context(), session)
	if err != nil {
		response.FromError(w, r, "Access denied. You are not an authorized authority.", err)
		return
	}
	response.Success(w, http.StatusOK, "User profile fetched", sessionPayload{
		ExpiresAt: session.ExpiresAt,
		User:      session.Identity,
		Authority: authority,
	})
}
