// Package handlers serves the public community update and device token
// endpoints used by the citizen app.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/middleware"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/response"
	"complaint-portal/pkg/store"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

const defaultPlatform = "android"

type Store interface {
	store.UserStore
	store.CommunityUpdateStore
}

type Handler struct {
	store Store
	now   func() time.Time
}

func New(st Store) *Handler {
	return &Handler{store: st, now: time.Now}
}

// Mount registers the endpoints behind a per-IP rate limit.
func (h *Handler) Mount(r chi.Router, rateReqs int, rateWindow time.Duration) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(rateReqs, rateWindow))
		r.Post("/sendTestNotification", h.SendTestNotification)
		r.Post("/updateUserDeviceToken", h.UpdateUserDeviceToken)
		r.Post("/removeUserDeviceToken", h.RemoveUserDeviceToken)
	})
}

type failure struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type success struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	DocID   string `json:"docId,omitempty"`
}

// decode reads a JSON body. A malformed body is treated as empty so the
// caller reports the missing fields.
func decode(r *http.Request, v interface{}) {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("unreadable request body")
	}
}

func storeFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	if errors.Is(err, models.ErrNotFound) {
		response.JSON(w, http.StatusNotFound, failure{Error: "User not found", Details: err.Error()})
		return
	}
	logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg(message)
	response.JSON(w, http.StatusInternalServerError, failure{Error: message, Details: err.Error()})
}

// SendTestNotification stores a community update. Delivery to devices is
// done by the dispatcher once the update is created.
func (h *Handler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	var input struct {
		EventName   string `json:"eventName"`
		Date        string `json:"date"`
		Time        string `json:"time"`
		Description string `json:"description"`
	}
	decode(r, &input)

	if blank(input.EventName, input.Date, input.Time, input.Description) {
		response.JSON(w, http.StatusBadRequest, failure{Error: "Missing required fields: eventName, date, time, description"})
		return
	}

	id, err := h.store.CreateCommunityUpdate(r.Context(), models.CommunityUpdate{
		EventName:   input.EventName,
		Date:        input.Date,
		Time:        input.Time,
		Description: input.Description,
		CreatedAt:   h.now(),
	})
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to create community update")
		response.JSON(w, http.StatusInternalServerError, failure{Error: "Failed to create community update", Details: err.Error()})
		return
	}

	logging.Ctx(r.Context()).Info().Str("update_id", id).Str("event_name", input.EventName).Msg("community update created")
	response.JSON(w, http.StatusOK, success{
		Success: true,
		Message: "Community update created and notifications sent",
		DocID:   id,
	})
}

type tokenInput struct {
	UserID      string `json:"userId"`
	DeviceToken string `json:"deviceToken"`
	Platform    string `json:"platform"`
}

func (h *Handler) UpdateUserDeviceToken(w http.ResponseWriter, r *http.Request) {
	var input tokenInput
	decode(r, &input)
	if blank(input.UserID, input.DeviceToken) {
		response.JSON(w, http.StatusBadRequest, failure{Error: "Missing userId or deviceToken"})
		return
	}
	platform := strings.TrimSpace(input.Platform)
	if platform == "" {
		platform = defaultPlatform
	}

	if err := h.store.AddDeviceToken(r.Context(), input.UserID, input.DeviceToken, platform); err != nil {
		storeFailure(w, r, "Failed to update device token", err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("user_id", input.UserID).Str("platform", platform).Msg("device token registered")
	response.JSON(w, http.StatusOK, success{Success: true, Message: "Device token registered successfully"})
}

func (h *Handler) RemoveUserDeviceToken(w http.ResponseWriter, r *http.Request) {
	var input tokenInput
	decode(r, &input)
	if blank(input.UserID, input.DeviceToken) {
		response.JSON(w, http.StatusBadRequest, failure{Error: "Missing userId or deviceToken"})
		return
	}

	if err := h.store.RemoveDeviceToken(r.Context(), input.UserID, input.DeviceToken); err != nil {
		storeFailure(w, r, "Failed to remove device token", err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("user_id", input.UserID).Msg("device token removed")
	response.JSON(w, http.StatusOK, success{Success: true, Message: "Device token removed successfully"})
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
