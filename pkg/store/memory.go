package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/models"

	"github.com/google/uuid"
)

// updateWatchBuffer bounds the updates queued for one slow watcher.
const updateWatchBuffer = 64

// MemoryStore keeps every collection in process. State is lost on restart
// and is not shared between processes.
type MemoryStore struct {
	mu          sync.Mutex
	complaints  map[string]models.Complaint
	authorities map[string]models.Authority
	users       map[string]models.User
	notes       map[string]models.Notification
	updates     []models.CommunityUpdate

	subscribers    map[*subscriber]struct{}
	updateWatchers map[int]chan models.CommunityUpdate
	nextWatcher    int

	unavailable bool
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		complaints:     make(map[string]models.Complaint),
		authorities:    make(map[string]models.Authority),
		users:          make(map[string]models.User),
		notes:          make(map[string]models.Notification),
		subscribers:    make(map[*subscriber]struct{}),
		updateWatchers: make(map[int]chan models.CommunityUpdate),
		now:            time.Now,
	}
}

// SetUnavailable simulates a lost connection: every operation fails with
// ErrStoreUnavailable until it is reset.
func (m *MemoryStore) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

func (m *MemoryStore) checkLocked() error {
	if m.unavailable {
		return models.ErrStoreUnavailable
	}
	return nil
}

func (m *MemoryStore) snapshotLocked() []models.Complaint {
	out := make([]models.Complaint, 0, len(m.complaints))
	for _, c := range m.complaints {
		out = append(out, cloneComplaint(c))
	}
	sortComplaints(out)
	return out
}

// publishLocked runs under m.mu so snapshots reach subscribers in commit order.
func (m *MemoryStore) publishLocked() {
	if len(m.subscribers) == 0 {
		return
	}
	snapshot := m.snapshotLocked()
	for s := range m.subscribers {
		s.offer(cloneComplaints(snapshot))
	}
}

func (m *MemoryStore) Subscribe(_ context.Context, fn SnapshotFunc) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	s := newSubscriber(fn)
	m.subscribers[s] = struct{}{}
	s.offer(m.snapshotLocked())

	return func() {
		m.mu.Lock()
		delete(m.subscribers, s)
		m.mu.Unlock()
		s.close()
	}, nil
}

func (m *MemoryStore) List(_ context.Context) ([]models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	return m.snapshotLocked(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return models.Complaint{}, err
	}
	c, ok := m.complaints[id]
	if !ok {
		return models.Complaint{}, fmt.Errorf("complaint %s: %w", id, models.ErrNotFound)
	}
	return cloneComplaint(c), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, patch models.ComplaintPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	c, ok := m.complaints[id]
	if !ok {
		return fmt.Errorf("complaint %s: %w", id, models.ErrNotFound)
	}
	c = patch.Apply(c)
	c.UpdatedAt = m.now()
	m.complaints[id] = c
	m.publishLocked()
	return nil
}

func (m *MemoryStore) LinkNotification(_ context.Context, id, notificationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return false, err
	}
	c, ok := m.complaints[id]
	if !ok {
		return false, fmt.Errorf("complaint %s: %w", id, models.ErrNotFound)
	}
	if c.NotificationID != nil {
		return false, nil
	}
	c = models.ComplaintPatch{NotificationID: &notificationID}.Apply(c)
	c.UpdatedAt = m.now()
	m.complaints[id] = c
	m.publishLocked()
	return true, nil
}

func (m *MemoryStore) Create(_ context.Context, c models.Complaint) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return "", err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.Priority == "" {
		c.Priority = models.PriorityMedium
	}
	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = m.now()
	}
	m.complaints[c.ID] = cloneComplaint(c)
	m.publishLocked()
	return c.ID, nil
}

func (m *MemoryStore) GetAuthority(_ context.Context, id string) (models.Authority, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return models.Authority{}, err
	}
	a, ok := m.authorities[id]
	if !ok {
		return models.Authority{}, fmt.Errorf("authority %s: %w", id, models.ErrNotFound)
	}
	return a, nil
}

func (m *MemoryStore) ListAuthorities(_ context.Context) ([]models.Authority, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	out := make([]models.Authority, 0, len(m.authorities))
	for _, a := range m.authorities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateAuthority(_ context.Context, a models.Authority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.authorities[a.ID] = a
	return nil
}

func (m *MemoryStore) CountAuthorities(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return 0, err
	}
	return int64(len(m.authorities)), nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	if u.ID == "" {
		return fmt.Errorf("create user: empty id")
	}
	u.DeviceTokens = append([]string(nil), u.DeviceTokens...)
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return models.User{}, err
	}
	u, ok := m.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	u.DeviceTokens = append([]string(nil), u.DeviceTokens...)
	return u, nil
}

func (m *MemoryStore) AddDeviceToken(_ context.Context, userID, token, platform string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	if !containsToken(u.DeviceTokens, token) {
		u.DeviceTokens = append(u.DeviceTokens, token)
	}
	now := m.now()
	u.LastDeviceTokenUpdate = &now
	u.Platform = platform
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) RemoveDeviceToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	if u.DeviceTokens == nil {
		return nil
	}
	kept := u.DeviceTokens[:0:0]
	for _, t := range u.DeviceTokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	u.DeviceTokens = kept
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) DeviceTokens(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	return append([]string(nil), u.DeviceTokens...), nil
}

func (m *MemoryStore) AllDeviceTokens(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var tokens []string
	for _, id := range ids {
		if u := m.users[id]; u.DeviceTokens != nil {
			tokens = append(tokens, u.DeviceTokens...)
		}
	}
	return tokens, nil
}

func (m *MemoryStore) PruneDeviceToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	for id, u := range m.users {
		if !containsToken(u.DeviceTokens, token) {
			continue
		}
		kept := u.DeviceTokens[:0:0]
		for _, t := range u.DeviceTokens {
			if t != token {
				kept = append(kept, t)
			}
		}
		u.DeviceTokens = kept
		m.users[id] = u
	}
	return nil
}

func containsToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateNotification(_ context.Context, n models.Notification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return "", err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}
	m.notes[n.ID] = n
	return n.ID, nil
}

func (m *MemoryStore) GetNotification(_ context.Context, id string) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return models.Notification{}, err
	}
	n, ok := m.notes[id]
	if !ok {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return n, nil
}

func (m *MemoryStore) UpdateNotificationMessage(_ context.Context, id, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	n, ok := m.notes[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	n.Message = message
	n.Read = false
	n.UpdatedAt = &at
	m.notes[id] = n
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	var out []models.Notification
	for _, n := range m.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteNotification(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}
	if _, ok := m.notes[id]; !ok {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	delete(m.notes, id)
	return nil
}

func (m *MemoryStore) CreateCommunityUpdate(ctx context.Context, u models.CommunityUpdate) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return "", err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.updates = append(m.updates, u)
	for watcher, ch := range m.updateWatchers {
		select {
		case ch <- u:
		default:
			logging.Ctx(ctx).Warn().
				Str("update_id", u.ID).
				Int("watcher", watcher).
				Msg("community update watcher is full, dropping update")
		}
	}
	return u.ID, nil
}

// CommunityUpdates returns every stored update in creation order.
func (m *MemoryStore) CommunityUpdates() []models.CommunityUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CommunityUpdate(nil), m.updates...)
}

func (m *MemoryStore) WatchCommunityUpdates(ctx context.Context, fn func(context.Context, models.CommunityUpdate)) error {
	ch := make(chan models.CommunityUpdate, updateWatchBuffer)
	m.mu.Lock()
	id := m.nextWatcher
	m.nextWatcher++
	m.updateWatchers[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.updateWatchers, id)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-ch:
			fn(ctx, u)
		}
	}
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked()
}

func (m *MemoryStore) Close(context.Context) error {
	m.mu.Lock()
	subs := make([]*subscriber, 0, len(m.subscribers))
	for s := range m.subscribers {
		subs = append(subs, s)
	}
	m.subscribers = make(map[*subscriber]struct{})
	m.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
