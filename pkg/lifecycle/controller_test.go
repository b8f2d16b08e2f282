package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/blob"
	"complaint-portal/pkg/events"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	actor = auth.Session{ID: "s1", Identity: auth.Identity{UserID: "auth-1", Email: "officer@city.gov"}}
)

// countingStore records writes so tests can assert that none happened.
// readDelay widens the gap between a read and the write that follows it.
type countingStore struct {
	*store.MemoryStore
	writes    atomic.Int32
	readDelay time.Duration
}

func (s *countingStore) Get(ctx context.Context, id string) (models.Complaint, error) {
	time.Sleep(s.readDelay)
	return s.MemoryStore.Get(ctx, id)
}

func (s *countingStore) LinkNotification(ctx context.Context, id, noteID string) (bool, error) {
	s.writes.Add(1)
	return s.MemoryStore.LinkNotification(ctx, id, noteID)
}

func (s *countingStore) Update(ctx context.Context, id string, p models.ComplaintPatch) error {
	s.writes.Add(1)
	return s.MemoryStore.Update(ctx, id, p)
}

func (s *countingStore) CreateNotification(ctx context.Context, n models.Notification) (string, error) {
	s.writes.Add(1)
	return s.MemoryStore.CreateNotification(ctx, n)
}

func (s *countingStore) UpdateNotificationMessage(ctx context.Context, id, msg string, at time.Time) error {
	s.writes.Add(1)
	return s.MemoryStore.UpdateNotificationMessage(ctx, id, msg, at)
}

type fixture struct {
	store  *countingStore
	bus    *events.MemoryBus
	proofs *blob.MemoryStore
	ctrl   *Controller
}

func setup(t *testing.T, complaints ...models.Complaint) fixture {
	t.Helper()
	st := &countingStore{MemoryStore: store.NewMemoryStore()}
	for _, c := range complaints {
		_, err := st.Create(context.Background(), c)
		require.NoError(t, err)
	}
	f := fixture{store: st, bus: events.NewMemoryBus(), proofs: blob.NewMemoryStore()}
	f.ctrl = NewController(st, st, f.bus, f.proofs)
	f.ctrl.now = func() time.Time { return t0.Add(time.Hour) }
	return f
}

func TestPermissiveStatusTransitions(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", Status: models.StatusPending, SubmittedAt: t0})
	ctx := context.Background()

	_, err := f.ctrl.SetStatus(ctx, actor, "c1", models.StatusCompleted)
	require.NoError(t, err)
	c, err := f.store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, c.Status)

	// reopening a completed complaint is allowed
	got, err := f.ctrl.SetStatus(ctx, actor, "c1", models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	evs := f.bus.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeStatusChanged, evs[1].Type)
	assert.Equal(t, models.StatusCompleted, evs[1].PreviousStatus)
	assert.Equal(t, models.StatusPending, evs[1].Status)
	assert.Equal(t, "auth-1", evs[1].Actor)
}

func TestSetStatusRejectsUnknownValues(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", SubmittedAt: t0})

	_, err := f.ctrl.SetStatus(context.Background(), actor, "c1", "Resolved")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
	_, err = f.ctrl.SetPriority(context.Background(), actor, "c1", "Urgent")
	assert.ErrorIs(t, err, models.ErrInvalidPriority)
	assert.Zero(t, f.store.writes.Load())
}

func TestSetStatusNotFoundAndUnavailable(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", SubmittedAt: t0})
	ctx := context.Background()

	_, err := f.ctrl.MarkResolved(ctx, actor, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	f.store.SetUnavailable(true)
	_, err = f.ctrl.MarkResolved(ctx, actor, "c1")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Empty(t, f.bus.Events())
}

func TestAssignDoesNotChangeStatus(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", Status: models.StatusInProgress, SubmittedAt: t0})
	ctx := context.Background()

	roads := "Roads Dept"
	got, err := f.ctrl.Assign(ctx, actor, "c1", &roads)
	require.NoError(t, err)
	assert.Equal(t, "Roads Dept", got.Assigned())
	assert.Equal(t, models.StatusInProgress, got.Status)

	blank := "  "
	got, err = f.ctrl.Assign(ctx, actor, "c1", &blank)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedAuthority)

	_, err = f.ctrl.Assign(ctx, actor, "c1", &roads)
	require.NoError(t, err)
	got, err = f.ctrl.Assign(ctx, actor, "c1", nil)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedAuthority)
}

func TestSetPriority(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", Status: models.StatusCompleted, SubmittedAt: t0})

	got, err := f.ctrl.SetPriority(context.Background(), actor, "c1", models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestUpdateAppliesEveryFieldInOneWrite(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", Title: "Pothole", ReporterID: "citizen-1", SubmittedAt: t0})

	status, priority, works := models.StatusInProgress, models.PriorityHigh, "Public Works"
	got, err := f.ctrl.Update(context.Background(), actor, "c1", Change{
		Status:   &status,
		Priority: &priority,
		Assign:   true,
		Assignee: &works,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.store.writes.Load())
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	assert.Equal(t, "Public Works", got.Assigned())

	evs := f.bus.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeStatusChanged, evs[0].Type)
	assert.Equal(t, models.StatusPending, evs[0].PreviousStatus)
	assert.Equal(t, events.TypeAssigned, evs[1].Type)
	assert.Equal(t, models.StatusInProgress, evs[1].Status)
	assert.Equal(t, "Public Works", evs[1].AssignedAuthority)
}

func TestUpdateWithOneInvalidFieldWritesNothing(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", Status: models.StatusPending, SubmittedAt: t0})
	ctx := context.Background()

	completed, urgent := models.StatusCompleted, models.Priority("Urgent")
	_, err := f.ctrl.Update(ctx, actor, "c1", Change{Status: &completed, Priority: &urgent})
	require.ErrorIs(t, err, models.ErrInvalidPriority)

	_, err = f.ctrl.Update(ctx, actor, "c1", Change{})
	require.ErrorIs(t, err, models.ErrValidation)

	assert.Zero(t, f.store.writes.Load())
	assert.Empty(t, f.bus.Events())
	c, err := f.store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, c.Status)
}

func TestSendCitizenMessageTwiceKeepsOneNotification(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", Title: "Pothole", ReporterID: "citizen-1", SubmittedAt: t0})
	ctx := context.Background()

	first, err := f.ctrl.SendCitizenMessage(ctx, actor, "c1", "We are on it")
	require.NoError(t, err)
	second, err := f.ctrl.SendCitizenMessage(ctx, actor, "c1", "Crew arrives tomorrow")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	notes, err := f.store.ListNotifications(ctx, "citizen-1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Crew arrives tomorrow", notes[0].Message)
	assert.False(t, notes[0].Read)
	assert.Equal(t, "c1", notes[0].ComplaintID)
	require.NotNil(t, notes[0].UpdatedAt)

	c, err := f.store.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.NotificationID)
	assert.Equal(t, first.ID, *c.NotificationID)
}

func TestConcurrentFirstMessagesShareOneNotification(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", Title: "Pothole", ReporterID: "citizen-1", SubmittedAt: t0})
	f.store.readDelay = 5 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	sent := make([]models.Notification, 2)
	errs := make([]error, 2)
	for i := range sent {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sent[i], errs[i] = f.ctrl.SendCitizenMessage(ctx, actor, "c1", fmt.Sprintf("message %d", i))
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, sent[0].ID, sent[1].ID)

	notes, err := f.store.ListNotifications(ctx, "citizen-1")
	require.NoError(t, err)
	require.Len(t, notes, 1)

	c, err := f.store.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.NotificationID)
	assert.Equal(t, notes[0].ID, *c.NotificationID)
}

func TestSendCitizenMessageMissingReporter(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", SubmittedAt: t0})

	_, err := f.ctrl.SendCitizenMessage(context.Background(), actor, "c1", "hi")
	assert.ErrorIs(t, err, models.ErrMissingReporter)
	assert.Zero(t, f.store.writes.Load())
	assert.Empty(t, f.bus.Events())
}

func TestSendCitizenMessageEmpty(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", ReporterID: "citizen-1", SubmittedAt: t0})

	_, err := f.ctrl.SendCitizenMessage(context.Background(), actor, "c1", " \n\t")
	assert.ErrorIs(t, err, models.ErrEmptyMessage)
	assert.Zero(t, f.store.writes.Load())
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", SubmittedAt: t0})
	f.bus.FailWith(errors.New("broker down"))

	got, err := f.ctrl.MarkResolved(context.Background(), actor, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestResolveWithProof(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", SubmittedAt: t0})

	got, err := f.ctrl.Resolve(context.Background(), actor, "c1", &Proof{
		Filename:    "after.JPG",
		ContentType: "image/jpeg",
		Size:        5,
		Body:        strings.NewReader("image"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.True(t, strings.HasPrefix(got.ResolutionProofURL, "memory://proofs/c1/"))
	assert.True(t, strings.HasSuffix(got.ResolutionProofURL, ".jpg"))

	obj, ok := f.proofs.Object(strings.TrimPrefix(got.ResolutionProofURL, "memory://"))
	require.True(t, ok)
	assert.Equal(t, []byte("image"), obj.Data)
}

func TestResolveWithoutProof(t *testing.T) {
	f := setup(t, models.Complaint{ID: "c1", SubmittedAt: t0})

	got, err := f.ctrl.Resolve(context.Background(), actor, "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Empty(t, got.ResolutionProofURL)
}
