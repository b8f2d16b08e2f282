// Package handlers serves the authority dashboard API: complaint triage,
// reports, the authority directory and the live feed.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"complaint-portal/pkg/analytics"
	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/lifecycle"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/middleware"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/response"
	"complaint-portal/pkg/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// DefaultMaxProofBytes bounds the resolution photo upload.
const DefaultMaxProofBytes = 10 << 20

// Registrar creates authority accounts.
type Registrar interface {
	RegisterAuthority(ctx context.Context, req auth.AuthorityRequest) (models.Authority, error)
}

type Deps struct {
	Complaints  store.ComplaintRepository
	Authorities store.AuthorityStore
	Controller  *lifecycle.Controller
	Registrar   Registrar
	Live        http.Handler
}

type Handler struct {
	complaints    store.ComplaintRepository
	authorities   store.AuthorityStore
	controller    *lifecycle.Controller
	registrar     Registrar
	live          http.Handler
	validate      *validator.Validate
	maxProofBytes int64
	now           func() time.Time
}

func New(d Deps) *Handler {
	return &Handler{
		complaints:    d.Complaints,
		authorities:   d.Authorities,
		controller:    d.Controller,
		registrar:     d.Registrar,
		live:          d.Live,
		validate:      validator.New(),
		maxProofBytes: DefaultMaxProofBytes,
		now:           time.Now,
	}
}

// Mount registers the /api routes. Every route requires a live session
// that belongs to an active authority.
func (h *Handler) Mount(r chi.Router, authn middleware.Authenticator, authz middleware.Authorizer) {
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(authn))
		r.Use(middleware.RequireAuthority(authz))
		r.Use(middleware.RequireActiveAuthority)

		r.Route("/complaints", func(r chi.Router) {
			r.Get("/", h.ListComplaints)
			r.Get("/{id}", h.GetComplaint)
			r.Patch("/{id}", h.UpdateComplaint)
			r.Post("/{id}/resolve", h.ResolveComplaint)
			r.Post("/{id}/messages", h.SendMessage)
		})
		r.Get("/reports", h.Report)
		r.Get("/authorities", h.ListAuthorities)
		r.Post("/authorities", h.CreateAuthority)
		if h.live != nil {
			r.Get("/live", h.live.ServeHTTP)
		}
	})
}

func actor(r *http.Request) auth.Session {
	s, _ := middleware.SessionFromContext(r.Context())
	return s
}

func (h *Handler) ListComplaints(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if !analytics.ValidFilter(status) {
		response.Error(w, http.StatusBadRequest, "Invalid status filter", "status must be one of all, pending, inprogress, completed")
		return
	}

	complaints, err := h.complaints.List(r.Context())
	if err != nil {
		response.FromError(w, r, "Failed to fetch complaints", err)
		return
	}
	complaints = analytics.Filter(complaints, status, r.URL.Query().Get("q"))
	response.Success(w, http.StatusOK, "Complaints fetched successfully", complaints)
}

func (h *Handler) GetComplaint(w http.ResponseWriter, r *http.Request) {
	c, err := h.complaints.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, r, "Failed to fetch complaint", err)
		return
	}
	response.Success(w, http.StatusOK, "Complaint fetched successfully", c)
}

// UpdateComplaint applies status, priority and assignment changes as one
// write. An explicit null or empty assignedAuthority unassigns.
func (h *Handler) UpdateComplaint(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	var (
		status   *models.Status
		priority *models.Priority
	)
	if raw, ok := fields["status"]; ok {
		if err := json.Unmarshal(raw, &status); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid status", "")
			return
		}
	}
	if raw, ok := fields["priority"]; ok {
		if err := json.Unmarshal(raw, &priority); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid priority", "")
			return
		}
	}
	rawAssignee, assign := fields["assignedAuthority"]
	if status == nil && priority == nil && !assign {
		response.Error(w, http.StatusBadRequest, "No changes supplied", "expected status, priority or assignedAuthority")
		return
	}

	var assignee *string
	if assign && len(rawAssignee) > 0 && string(rawAssignee) != "null" {
		if err := json.Unmarshal(rawAssignee, &assignee); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid assignedAuthority", "")
			return
		}
	}

	change := lifecycle.Change{Status: status, Priority: priority, Assign: assign, Assignee: assignee}
	updated, err := h.controller.Update(r.Context(), actor(r), chi.URLParam(r, "id"), change)
	if err != nil {
		response.FromError(w, r, "Failed to update complaint", err)
		return
	}
	response.Success(w, http.StatusOK, "Complaint updated successfully", updated)
}

// ResolveComplaint marks the complaint completed. A multipart body may carry
// a "proof" photo.
func (h *Handler) ResolveComplaint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var proof *lifecycle.Proof
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxProofBytes)
		if err := r.ParseMultipartForm(h.maxProofBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid proof upload", err.Error())
			return
		}
		file, header, err := r.FormFile("proof")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			response.Error(w, http.StatusBadRequest, "Invalid proof upload", err.Error())
			return
		default:
			defer file.Close()
			contentType := header.Header.Get("Content-Type")
			if !strings.HasPrefix(contentType, "image/") {
				response.Error(w, http.StatusBadRequest, "Proof must be an image", "")
				return
			}
			proof = &lifecycle.Proof{
				Filename:    header.Filename,
				ContentType: contentType,
				Size:        header.Size,
				Body:        file,
			}
		}
	}

	c, err := h.controller.Resolve(r.Context(), actor(r), id, proof)
	if err != nil {
		response.FromError(w, r, "Failed to resolve complaint", err)
		return
	}
	response.Success(w, http.StatusOK, "Complaint resolved", c)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	n, err := h.controller.SendCitizenMessage(r.Context(), actor(r), chi.URLParam(r, "id"), input.Text)
	if err != nil {
		response.FromError(w, r, "Failed to send message", err)
		return
	}
	response.Success(w, http.StatusOK, "Message sent to citizen", n)
}

// Report answers the dashboard summary, optionally bounded by timeRange.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	days, ok := analytics.RangeDays(r.URL.Query().Get("timeRange"))
	if !ok {
		response.Error(w, http.StatusBadRequest, "Invalid timeRange", "timeRange must be one of 7d, 30d, 90d, all")
		return
	}

	complaints, err := h.complaints.List(r.Context())
	if err != nil {
		response.FromError(w, r, "Failed to build report", err)
		return
	}
	now := h.now()
	if days > 0 {
		complaints = analytics.Since(complaints, now.AddDate(0, 0, -days))
	}
	response.Success(w, http.StatusOK, "Report generated", analytics.Build(complaints, now))
}

func (h *Handler) ListAuthorities(w http.ResponseWriter, r *http.Request) {
	authorities, err := h.authorities.ListAuthorities(r.Context())
	if err != nil {
		response.FromError(w, r, "Failed to fetch authorities", err)
		return
	}
	complaints, err := h.complaints.List(r.Context())
	if err != nil {
		response.FromError(w, r, "Failed to fetch authorities", err)
		return
	}
	response.Success(w, http.StatusOK, "Authorities fetched successfully", analytics.AuthorityWorkload(complaints, authorities))
}

type authorityInput struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Category string `json:"category" validate:"max=100"`
	Phone    string `json:"phone" validate:"max=30"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=100"`
}

func (h *Handler) CreateAuthority(w http.ResponseWriter, r *http.Request) {
	var input authorityInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := h.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			response.Error(w, http.StatusBadRequest, "Validation failed", fmt.Sprintf("%s failed on %s", strings.ToLower(verrs[0].Field()), verrs[0].Tag()))
			return
		}
		response.Error(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	a, err := h.registrar.RegisterAuthority(r.Context(), auth.AuthorityRequest{
		Name:     input.Name,
		Category: input.Category,
		Phone:    input.Phone,
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		response.FromError(w, r, "Failed to create authority", err)
		return
	}

	if by, ok := middleware.AuthorityFromContext(r.Context()); ok {
		logging.Ctx(r.Context()).Info().Str("created_by", by.AuthorityID).Str("authority_id", a.AuthorityID).Msg("authority created")
	}
	response.Success(w, http.StatusCreated, "Authority created successfully", models.AuthorityWorkload{Authority: a})
}
