package store

import (
	"context"
	"errors"
	"reflect"
	"time"

	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/models"

	"go.mongodb.org/mongo-driver/mongo"
)

var errFeedEnded = errors.New("change stream ended")

// changeFeed is the part of *mongo.ChangeStream the issue watcher reads.
type changeFeed interface {
	Next(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
}

// changeStreamsUnsupported reports the server refusing $changeStream
// outright, as a standalone mongod does. Anything else is worth a retry.
func changeStreamsUnsupported(err error) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorCode(40573) ||
		se.HasErrorCodeWithMessage(20, "only supported on replica sets")
}

// issueWatcher turns change stream events into complaint snapshots. It
// reconnects with backoff and hands over to polling only when the server
// cannot stream at all.
type issueWatcher struct {
	open     func(ctx context.Context) (changeFeed, error)
	list     func(ctx context.Context) ([]models.Complaint, error)
	poll     func(ctx context.Context, sub *subscriber, last []models.Complaint)
	minRetry time.Duration
	maxRetry time.Duration
}

func (s *MongoStore) issueWatcher() *issueWatcher {
	return &issueWatcher{
		open: func(ctx context.Context) (changeFeed, error) {
			stream, err := s.db.Collection(collIssues).Watch(ctx, mongo.Pipeline{})
			if err != nil {
				return nil, err
			}
			return stream, nil
		},
		list:     s.List,
		poll:     s.pollIssues,
		minRetry: time.Second,
		maxRetry: 30 * time.Second,
	}
}

// run owns feed until ctx ends. A non-nil openErr means the first open
// already failed.
func (w *issueWatcher) run(ctx context.Context, sub *subscriber, feed changeFeed, openErr error, last []models.Complaint) {
	log := logging.With().Str("component", "issues-watch").Logger()
	retry := w.minRetry

	for {
		if openErr != nil {
			if changeStreamsUnsupported(openErr) {
				log.Warn().Err(openErr).Msg("change streams unsupported, polling")
				w.poll(ctx, sub, last)
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(openErr).Dur("retry_in", retry).Msg("change stream unavailable, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			retry = min(retry*2, w.maxRetry)

			if feed, openErr = w.open(ctx); openErr != nil {
				continue
			}
			// commits made while the stream was down produced no events
			last = w.refresh(ctx, sub, last, true)
		}

		for feed.Next(ctx) {
			retry = w.minRetry
			last = w.refresh(ctx, sub, last, false)
		}
		openErr = feed.Err()
		_ = feed.Close(context.Background())
		feed = nil
		if ctx.Err() != nil {
			return
		}
		if openErr == nil {
			openErr = errFeedEnded
		}
	}
}

func (w *issueWatcher) refresh(ctx context.Context, sub *subscriber, last []models.Complaint, skipUnchanged bool) []models.Complaint {
	snapshot, err := w.list(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error().Err(err).Msg("failed to reload complaints after change")
		}
		return last
	}
	if skipUnchanged && reflect.DeepEqual(snapshot, last) {
		return last
	}
	sub.offer(snapshot)
	return snapshot
}
