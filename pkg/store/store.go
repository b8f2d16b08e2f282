// Package store is the document store boundary. Two backends implement it:
// MongoDB for deployments and an in-process memory store for development
// and tests.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"complaint-portal/pkg/config"
	"complaint-portal/pkg/database"
	"complaint-portal/pkg/models"
)

// SnapshotFunc receives the full ordered complaint set.
type SnapshotFunc func([]models.Complaint)

// Unsubscribe stops a subscription and returns once no further callback
// can run. It must not be called from inside the callback.
type Unsubscribe func()

type ComplaintRepository interface {
	// Subscribe delivers the current snapshot immediately and a new one
	// after every committed change, newest submission first.
	Subscribe(ctx context.Context, fn SnapshotFunc) (Unsubscribe, error)
	List(ctx context.Context) ([]models.Complaint, error)
	Get(ctx context.Context, id string) (models.Complaint, error)
	Update(ctx context.Context, id string, patch models.ComplaintPatch) error
	Create(ctx context.Context, c models.Complaint) (string, error)
	// LinkNotification records the complaint's notification only while
	// none is linked. It reports false when another link got there first.
	LinkNotification(ctx context.Context, id, notificationID string) (bool, error)
}

type AuthorityStore interface {
	GetAuthority(ctx context.Context, id string) (models.Authority, error)
	ListAuthorities(ctx context.Context) ([]models.Authority, error)
	CreateAuthority(ctx context.Context, a models.Authority) error
	CountAuthorities(ctx context.Context) (int64, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	// AddDeviceToken is a set union; registering a known token is a no-op
	// apart from the timestamp.
	AddDeviceToken(ctx context.Context, userID, token, platform string) error
	RemoveDeviceToken(ctx context.Context, userID, token string) error
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	// AllDeviceTokens flattens the tokens of every user that has a list.
	AllDeviceTokens(ctx context.Context) ([]string, error)
	// PruneDeviceToken removes a dead token from every user holding it.
	PruneDeviceToken(ctx context.Context, token string) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n models.Notification) (string, error)
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	// UpdateNotificationMessage overwrites the message and marks it unread.
	UpdateNotificationMessage(ctx context.Context, id, message string, at time.Time) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	DeleteNotification(ctx context.Context, id string) error
}

type CommunityUpdateStore interface {
	CreateCommunityUpdate(ctx context.Context, u models.CommunityUpdate) (string, error)
	// WatchCommunityUpdates calls fn once per created update until ctx ends.
	WatchCommunityUpdates(ctx context.Context, fn func(context.Context, models.CommunityUpdate)) error
}

type Store interface {
	ComplaintRepository
	AuthorityStore
	UserStore
	NotificationStore
	CommunityUpdateStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendMongo:
		db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		return NewMongoStore(db, cfg.PollInterval), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// sortComplaints orders by submission time, newest first, ties by id.
func sortComplaints(cs []models.Complaint) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i].SubmittedAt, cs[j].SubmittedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return cs[i].ID < cs[j].ID
	})
}
