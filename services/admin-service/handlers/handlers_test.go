package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/blob"
	"complaint-portal/pkg/config"
	"complaint-portal/pkg/events"
	"complaint-portal/pkg/lifecycle"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/server"
	"complaint-portal/pkg/store"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	router   chi.Router
	store    *store.MemoryStore
	bus      *events.MemoryBus
	proofs   *blob.MemoryStore
	provider *auth.Provider
	token    string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	provider, err := auth.NewProvider(db, auth.NewMemorySessionStore(), "test-secret", time.Hour)
	require.NoError(t, err)

	ms := store.NewMemoryStore()
	bus := events.NewMemoryBus()
	proofs := blob.NewMemoryStore()
	gate := auth.NewGate(provider, ms)

	ctx := context.Background()
	_, err = gate.Bootstrap(ctx, auth.AuthorityRequest{Name: "Public Works", Email: "works@city.gov", Password: "password123"})
	require.NoError(t, err)
	session, _, err := gate.SignIn(ctx, "works@city.gov", "password123")
	require.NoError(t, err)

	r := server.NewRouter("admin-service", config.SecurityConfig{CORSOrigins: []string{"*"}}, nil)
	h := New(Deps{
		Complaints:  ms,
		Authorities: ms,
		Controller:  lifecycle.NewController(ms, ms, bus, proofs),
		Registrar:   gate,
	})
	h.now = func() time.Time { return t0 }
	h.Mount(r, provider, gate)

	return &fixture{router: r, store: ms, bus: bus, proofs: proofs, provider: provider, token: session.Token}
}

func (f *fixture) seed(t *testing.T, c models.Complaint) string {
	t.Helper()
	id, err := f.store.Create(context.Background(), c)
	require.NoError(t, err)
	return id
}

func (f *fixture) send(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, json.RawMessage) {
	t.Helper()
	if f.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env.Data
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return f.send(t, req)
}

func TestRequiresAuthoritySession(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/complaints", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	citizen, err := f.provider.CreateAccount(context.Background(), "citizen@mail.com", "citizen-pass")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/complaints", nil)
	req.Header.Set("Authorization", "Bearer "+citizen.Token)
	rec, _ = f.send(t, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// the refused session has been signed out
	_, err = f.provider.Authenticate(context.Background(), citizen.Token)
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestListComplaintsFiltersAndSearches(t *testing.T) {
	f := setup(t)
	f.seed(t, models.Complaint{ID: "a", Title: "Pothole", Location: "Main St", SubmittedAt: t0.Add(-time.Hour)})
	f.seed(t, models.Complaint{ID: "b", Title: "Broken light", Location: "Main St", Status: models.StatusInProgress, SubmittedAt: t0})
	f.seed(t, models.Complaint{ID: "c", Title: "Litter", Location: "Park", SubmittedAt: t0.Add(-2 * time.Hour)})

	rec, data := f.do(t, http.MethodGet, "/api/complaints", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.Complaint
	require.NoError(t, json.Unmarshal(data, &all))
	assert.Equal(t, []string{"b", "a", "c"}, ids(all))

	rec, data = f.do(t, http.MethodGet, "/api/complaints?status=pending&q=main", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered []models.Complaint
	require.NoError(t, json.Unmarshal(data, &filtered))
	assert.Equal(t, []string{"a"}, ids(filtered))

	rec, _ = f.do(t, http.MethodGet, "/api/complaints?status=closed", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func ids(cs []models.Complaint) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestGetComplaintNotFound(t *testing.T) {
	f := setup(t)
	rec, _ := f.do(t, http.MethodGet, "/api/complaints/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateComplaint(t *testing.T) {
	f := setup(t)
	id := f.seed(t, models.Complaint{Title: "Pothole", ReporterID: "citizen-1"})

	rec, data := f.do(t, http.MethodPatch, "/api/complaints/"+id, `{"status":"In Progress","priority":"High","assignedAuthority":"Public Works"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var c models.Complaint
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, models.StatusInProgress, c.Status)
	assert.Equal(t, models.PriorityHigh, c.Priority)
	assert.Equal(t, "Public Works", c.Assigned())

	rec, data = f.do(t, http.MethodPatch, "/api/complaints/"+id, `{"assignedAuthority":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Nil(t, c.AssignedAuthority)

	types := make([]string, 0)
	for _, ev := range f.bus.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.TypeStatusChanged, events.TypeAssigned, events.TypeAssigned}, types)
}

func TestUpdateComplaintRejectsBadInput(t *testing.T) {
	f := setup(t)
	id := f.seed(t, models.Complaint{Title: "Pothole"})

	rec, _ := f.do(t, http.MethodPatch, "/api/complaints/"+id, `{"status":"Closed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodPatch, "/api/complaints/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodPatch, "/api/complaints/"+id, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, c.Status)
}

func TestUpdateComplaintRejectedBodyWritesNothing(t *testing.T) {
	f := setup(t)
	id := f.seed(t, models.Complaint{Title: "Pothole", ReporterID: "citizen-1"})

	rec, _ := f.do(t, http.MethodPatch, "/api/complaints/"+id, `{"status":"Completed","priority":"Urgent","assignedAuthority":"Public Works"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, models.PriorityMedium, c.Priority)
	assert.Nil(t, c.AssignedAuthority)
	assert.Empty(t, f.bus.Events())
}

func TestUpdateComplaintStoreUnavailable(t *testing.T) {
	f := setup(t)
	id := f.seed(t, models.Complaint{Title: "Pothole"})
	f.store.SetUnavailable(true)

	// the authority lookup fails first, so the request never reaches the handler
	rec, _ := f.do(t, http.MethodPatch, "/api/complaints/"+id, `{"status":"Completed"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestResolveWithProof(t *testing.T) {
	f := setup(t)
	id := f.seed(t, models.Complaint{Title: "Graffiti"})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="proof"; filename="after.JPG"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/complaints/"+id+"/resolve", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec, data := f.send(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var c models.Complaint
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, models.StatusCompleted, c.Status)
	require.True(t, strings.HasPrefix(c.ResolutionProofURL, "memory://proofs/"+id+"/"))
	assert.True(t, strings.HasSuffix(c.ResolutionProofURL, ".jpg"))

	obj, ok := f.proofs.Object(strings.TrimPrefix(c.ResolutionProofURL, "memory://"))
	require.True(t, ok)
	assert.Equal(t, "jpeg-bytes", string(obj.Data))
}

func TestResolveWithoutProof(t *testing.T) {
	f := setup(t)
	id := f.seed(t, models.Complaint{Title: "Graffiti"})

	rec, data := f.do(t, http.MethodPost, "/api/complaints/"+id+"/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var c models.Complaint
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, models.StatusCompleted, c.Status)
	assert.Empty(t, c.ResolutionProofURL)
}

func TestSendMessageCollapsesIntoOneNotification(t *testing.T) {
	f := setup(t)
	id := f.seed(t, models.Complaint{Title: "Noise", ReporterID: "citizen-9"})

	rec, _ := f.do(t, http.MethodPost, "/api/complaints/"+id+"/messages", `{"text":"We are on it"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, data := f.do(t, http.MethodPost, "/api/complaints/"+id+"/messages", `{"text":"Crew dispatched"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var n models.Notification
	require.NoError(t, json.Unmarshal(data, &n))
	assert.Equal(t, "Crew dispatched", n.Message)

	notes, err := f.store.ListNotifications(context.Background(), "citizen-9")
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	rec, _ = f.do(t, http.MethodPost, "/api/complaints/"+id+"/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageWithoutReporter(t *testing.T) {
	f := setup(t)
	id := f.seed(t, models.Complaint{Title: "Noise"})

	rec, _ := f.do(t, http.MethodPost, "/api/complaints/"+id+"/messages", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReport(t *testing.T) {
	f := setup(t)
	f.seed(t, models.Complaint{Category: "Roads", SubmittedAt: t0.AddDate(0, 0, -1)})
	f.seed(t, models.Complaint{Category: "Roads", Status: models.StatusCompleted, SubmittedAt: t0.AddDate(0, 0, -3)})
	f.seed(t, models.Complaint{Category: "Water", SubmittedAt: t0.AddDate(0, 0, -60)})

	rec, data := f.do(t, http.MethodGet, "/api/reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Total      int            `json:"total"`
		ByCategory map[string]int `json:"byCategory"`
	}
	require.NoError(t, json.Unmarshal(data, &all))
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 2, all.ByCategory["Roads"])

	rec, data = f.do(t, http.MethodGet, "/api/reports?timeRange=30d", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(data, &all))
	assert.Equal(t, 2, all.Total)

	rec, _ = f.do(t, http.MethodGet, "/api/reports?timeRange=1y", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorities(t *testing.T) {
	f := setup(t)
	f.seed(t, models.Complaint{AssignedAuthority: strPtr("Public Works"), Status: models.StatusCompleted})
	f.seed(t, models.Complaint{AssignedAuthority: strPtr("public works")})

	rec, data := f.do(t, http.MethodPost, "/api/authorities", `{"name":"Water Board","email":"water@city.gov","password":"password123"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.AuthorityWorkload
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "Water Board", created.Name)
	assert.Zero(t, created.AssignedCount)

	rec, _ = f.do(t, http.MethodPost, "/api/authorities", `{"name":"Water Board","email":"water@city.gov","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/api/authorities", `{"name":"X","email":"not-an-email","password":"password123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, data = f.do(t, http.MethodGet, "/api/authorities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.AuthorityWorkload
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Public Works", list[0].Name)
	assert.Equal(t, 2, list[0].AssignedCount)
	assert.Equal(t, 1, list[0].ResolvedCount)
	assert.Equal(t, "Water Board", list[1].Name)
}

func strPtr(s string) *string { return &s }
