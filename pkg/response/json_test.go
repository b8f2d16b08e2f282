package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"complaint-portal/pkg/models"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("patch: %w", models.ErrInvalidStatus), http.StatusBadRequest},
		{models.ErrValidation, http.StatusBadRequest},
		{models.ErrMissingReporter, http.StatusBadRequest},
		{models.ErrInvalidCredentials, http.StatusUnauthorized},
		{models.ErrNoSession, http.StatusUnauthorized},
		{models.ErrNotAuthorized, http.StatusForbidden},
		{fmt.Errorf("get c9: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrConflict, http.StatusConflict},
		{models.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestFromErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/complaints", nil)

	FromError(rec, req, "Failed to load complaints", errors.New("dial tcp 10.0.0.3: refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "Failed to load complaints", body.Message)
	assert.Empty(t, body.Error)
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusCreated, "created", map[string]string{"id": "c1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"success","message":"created","data":{"id":"c1"}}`, rec.Body.String())
}
