package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collIssues        = "issues"
	collAuthorities   = "authorities"
	collUsers         = "users"
	collNotifications = "notifications"
	collUpdates       = "communityUpdates"

	opTimeout = 10 * time.Second
)

type MongoStore struct {
	db           *mongo.Database
	pollInterval time.Duration
	now          func() time.Time
}

func NewMongoStore(db *mongo.Database, pollInterval time.Duration) *MongoStore {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &MongoStore{db: db, pollInterval: pollInterval, now: time.Now}
}

// mapError folds driver connectivity failures into ErrStoreUnavailable and
// missing documents into ErrNotFound.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
	default:
		var sse mongo.ServerError
		if errors.As(err, &sse) && sse.HasErrorLabel("RetryableWriteError") {
			return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *MongoStore) List(ctx context.Context) ([]models.Complaint, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: fieldTimestamp, Value: -1}})
	cursor, err := s.db.Collection(collIssues).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mapError("list complaints", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapError("decode complaints", err)
	}

	out := make([]models.Complaint, 0, len(docs))
	for _, doc := range docs {
		out = append(out, complaintFromDocument(doc))
	}
	// timestamps come in mixed representations, so order in Go
	sortComplaints(out)
	return out, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (models.Complaint, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc bson.M
	err := s.db.Collection(collIssues).FindOne(ctx, idFilter(id)).Decode(&doc)
	if err != nil {
		return models.Complaint{}, mapError("get complaint "+id, err)
	}
	return complaintFromDocument(doc), nil
}

func (s *MongoStore) Update(ctx context.Context, id string, patch models.ComplaintPatch) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.Collection(collIssues).UpdateOne(ctx, idFilter(id), patchToUpdate(patch, s.now()))
	if err != nil {
		return mapError("update complaint "+id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("complaint %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, c models.Complaint) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.Priority == "" {
		c.Priority = models.PriorityMedium
	}
	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = s.now()
	}
	doc := complaintToDocument(c)
	var id string
	if c.ID != "" {
		doc["_id"] = c.ID
		id = c.ID
	} else {
		oid := primitive.NewObjectID()
		doc["_id"] = oid
		id = oid.Hex()
	}

	if _, err := s.db.Collection(collIssues).InsertOne(ctx, doc); err != nil {
		return "", mapError("create complaint", err)
	}
	return id, nil
}

// LinkNotification matches only documents whose notificationId is still
// missing, null or empty, so concurrent first messages link exactly once.
func (s *MongoStore) LinkNotification(ctx context.Context, id, notificationID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := idFilter(id)
	filter[fieldNotifyID] = bson.M{"$in": bson.A{nil, ""}}
	update := patchToUpdate(models.ComplaintPatch{NotificationID: &notificationID}, s.now())

	res, err := s.db.Collection(collIssues).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, mapError("link notification to "+id, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Subscribe watches the issues collection through a change stream. Servers
// without change streams (standalone mongod) are polled instead.
func (s *MongoStore) Subscribe(ctx context.Context, fn SnapshotFunc) (Unsubscribe, error) {
	w := s.issueWatcher()

	// the stream opens before the initial read so no commit falls between them
	feed, openErr := w.open(ctx)
	initial, err := s.List(ctx)
	if err != nil {
		if feed != nil {
			_ = feed.Close(context.Background())
		}
		return nil, err
	}

	sub := newSubscriber(fn)
	sub.offer(initial)

	watchCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.run(watchCtx, sub, feed, openErr, initial)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			sub.close()
		})
	}, nil
}

func (s *MongoStore) pollIssues(ctx context.Context, sub *subscriber, last []models.Complaint) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snapshot, err := s.List(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logging.Warn().Err(err).Msg("complaint poll failed")
			}
			continue
		}
		if reflect.DeepEqual(snapshot, last) {
			continue
		}
		last = snapshot
		sub.offer(snapshot)
	}
}

func (s *MongoStore) GetAuthority(ctx context.Context, id string) (models.Authority, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var a models.Authority
	if err := s.db.Collection(collAuthorities).FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return models.Authority{}, mapError("get authority "+id, err)
	}
	return a, nil
}

func (s *MongoStore) ListAuthorities(ctx context.Context) ([]models.Authority, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := s.db.Collection(collAuthorities).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mapError("list authorities", err)
	}
	defer cursor.Close(ctx)

	authorities := []models.Authority{}
	if err := cursor.All(ctx, &authorities); err != nil {
		return nil, mapError("decode authorities", err)
	}
	return authorities, nil
}

func (s *MongoStore) CreateAuthority(ctx context.Context, a models.Authority) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.db.Collection(collAuthorities).InsertOne(ctx, a)
	return mapError("create authority", err)
}

func (s *MongoStore) CountAuthorities(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := s.db.Collection(collAuthorities).CountDocuments(ctx, bson.M{})
	return n, mapError("count authorities", err)
}

func (s *MongoStore) CreateUser(ctx context.Context, u models.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.Collection(collUsers).InsertOne(ctx, u)
	return mapError("create user", err)
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var u models.User
	if err := s.db.Collection(collUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return models.User{}, mapError("get user "+id, err)
	}
	return u, nil
}

func (s *MongoStore) AddDeviceToken(ctx context.Context, userID, token, platform string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	update := bson.M{
		"$addToSet": bson.M{"deviceTokens": token},
		"$set": bson.M{
			"platform":              platform,
			"lastDeviceTokenUpdate": primitive.NewDateTimeFromTime(s.now()),
		},
	}
	res, err := s.db.Collection(collUsers).UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return mapError("add device token", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) RemoveDeviceToken(ctx context.Context, userID, token string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	update := bson.M{"$pull": bson.M{"deviceTokens": token}}
	res, err := s.db.Collection(collUsers).UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return mapError("remove device token", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.DeviceTokens, nil
}

func (s *MongoStore) AllDeviceTokens(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"deviceTokens": bson.M{"$ne": nil}}
	opts := options.Find().SetProjection(bson.M{"deviceTokens": 1})
	cursor, err := s.db.Collection(collUsers).Find(ctx, filter, opts)
	if err != nil {
		return nil, mapError("list device tokens", err)
	}
	defer cursor.Close(ctx)

	var tokens []string
	for cursor.Next(ctx) {
		var u models.User
		if err := cursor.Decode(&u); err != nil {
			return nil, mapError("decode user", err)
		}
		tokens = append(tokens, u.DeviceTokens...)
	}
	return tokens, mapError("iterate users", cursor.Err())
}

func (s *MongoStore) PruneDeviceToken(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.Collection(collUsers).UpdateMany(ctx,
		bson.M{"deviceTokens": token},
		bson.M{"$pull": bson.M{"deviceTokens": token}},
	)
	return mapError("prune device token", err)
}

func (s *MongoStore) CreateNotification(ctx context.Context, n models.Notification) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if _, err := s.db.Collection(collNotifications).InsertOne(ctx, n); err != nil {
		return "", mapError("create notification", err)
	}
	return n.ID, nil
}

func (s *MongoStore) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var n models.Notification
	if err := s.db.Collection(collNotifications).FindOne(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		return models.Notification{}, mapError("get notification "+id, err)
	}
	return n, nil
}

func (s *MongoStore) UpdateNotificationMessage(ctx context.Context, id, message string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"message":   message,
		"read":      false,
		"updatedAt": primitive.NewDateTimeFromTime(at),
	}}
	res, err := s.db.Collection(collNotifications).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mapError("update notification "+id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.db.Collection(collNotifications).Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, mapError("list notifications", err)
	}
	defer cursor.Close(ctx)

	var out []models.Notification
	if err := cursor.All(ctx, &out); err != nil {
		return nil, mapError("decode notifications", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteNotification(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.Collection(collNotifications).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapError("delete notification "+id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) CreateCommunityUpdate(ctx context.Context, u models.CommunityUpdate) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	if _, err := s.db.Collection(collUpdates).InsertOne(ctx, u); err != nil {
		return "", mapError("create community update", err)
	}
	return u.ID, nil
}

type insertEvent struct {
	FullDocument models.CommunityUpdate `bson:"fullDocument"`
}

// WatchCommunityUpdates follows inserts on communityUpdates. Without change
// stream support it polls for documents newer than the last one seen.
func (s *MongoStore) WatchCommunityUpdates(ctx context.Context, fn func(context.Context, models.CommunityUpdate)) error {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"operationType": "insert"}}}}
	stream, err := s.db.Collection(collUpdates).Watch(ctx, pipeline)
	if changeStreamsUnsupported(err) {
		logging.Warn().Err(err).Msg("change streams unsupported, polling community updates")
		return s.pollCommunityUpdates(ctx, fn)
	}
	if err != nil {
		return mapError("watch community updates", err)
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var ev insertEvent
		if err := stream.Decode(&ev); err != nil {
			logging.Error().Err(err).Msg("failed to decode community update event")
			continue
		}
		fn(ctx, ev.FullDocument)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return mapError("watch community updates", stream.Err())
}

func (s *MongoStore) pollCommunityUpdates(ctx context.Context, fn func(context.Context, models.CommunityUpdate)) error {
	since := s.now()
	seen := map[string]struct{}{}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
		cursor, err := s.db.Collection(collUpdates).Find(ctx, bson.M{"createdAt": bson.M{"$gte": since}}, opts)
		if err != nil {
			logging.Warn().Err(err).Msg("community update poll failed")
			continue
		}
		var batch []models.CommunityUpdate
		err = cursor.All(ctx, &batch)
		cursor.Close(ctx)
		if err != nil {
			logging.Warn().Err(err).Msg("community update decode failed")
			continue
		}

		for _, u := range batch {
			if _, ok := seen[u.ID]; ok {
				continue
			}
			if u.CreatedAt.After(since) {
				// ids older than the watermark can no longer match the query
				since = u.CreatedAt
				seen = map[string]struct{}{}
			}
			seen[u.ID] = struct{}{}
			fn(ctx, u)
		}
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return mapError("ping", s.db.Client().Ping(ctx, nil))
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
