// Package dispatcher turns stored community updates and queued complaint
// events into push notifications.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"complaint-portal/pkg/events"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/push"
	"complaint-portal/pkg/queue"
	"complaint-portal/pkg/store"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Trigger fires the community update broadcast once per created update.
type Trigger struct {
	updates store.CommunityUpdateStore
	fanout  *push.Fanout
}

func NewTrigger(updates store.CommunityUpdateStore, fanout *push.Fanout) *Trigger {
	return &Trigger{updates: updates, fanout: fanout}
}

func (t *Trigger) Serve(ctx context.Context) error {
	logging.Info().Msg("watching community updates")
	return t.updates.WatchCommunityUpdates(ctx, t.handle)
}

func (t *Trigger) handle(ctx context.Context, u models.CommunityUpdate) {
	if _, err := t.fanout.CommunityUpdate(ctx, u); err != nil {
		logging.Error().Err(err).Str("update_id", u.ID).Msg("error sending community update notifications")
	}
}

func (t *Trigger) String() string {
	return "community-update-trigger"
}

// Consumer reads complaint events from the queue and pushes them to the
// reporter's devices.
type Consumer struct {
	url        string
	queueName  string
	fanout     *push.Fanout
	retryDelay time.Duration
}

func NewConsumer(url, queueName string, fanout *push.Fanout) *Consumer {
	return &Consumer{url: url, queueName: queueName, fanout: fanout, retryDelay: 2 * time.Second}
}

// Serve consumes until ctx ends. A lost connection returns an error so the
// supervisor reconnects.
func (c *Consumer) Serve(ctx context.Context) error {
	conn, ch, err := queue.ConnectRabbitMQ(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	msgs, err := queue.ConsumeMessages(ch, c.queueName, "dispatcher-service")
	if err != nil {
		return err
	}
	logging.Info().Str("queue", c.queueName).Msg("waiting for complaint events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("queue %s: delivery channel closed", c.queueName)
			}
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) String() string {
	return "complaint-event-consumer"
}

// retryable reports failures worth redelivering later.
func retryable(err error) bool {
	return errors.Is(err, push.ErrProviderUnavailable) || errors.Is(err, models.ErrStoreUnavailable)
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	ev, err := events.Decode(d.Body)
	if err != nil {
		logging.Warn().Err(err).Str("message_id", d.MessageId).Msg("dropping malformed complaint event")
		_ = d.Nack(false, false)
		return
	}

	log := logging.With().Str("complaint_id", ev.ComplaintID).Str("event", ev.Type).Logger()
	res, err := c.fanout.ComplaintEvent(ctx, ev)
	switch {
	case err == nil:
		log.Debug().Int("success", res.SuccessCount).Int("failure", res.FailureCount).Msg("complaint event delivered")
		_ = d.Ack(false)
	case errors.Is(err, models.ErrNotFound):
		log.Warn().Err(err).Msg("reporter has no user record")
		_ = d.Ack(false)
	case retryable(err):
		log.Warn().Err(err).Msg("push failed, requeueing")
		select {
		case <-ctx.Done():
		case <-time.After(c.retryDelay):
		}
		_ = d.Nack(false, true)
	default:
		log.Error().Err(err).Msg("push failed, dropping event")
		_ = d.Nack(false, false)
	}
}
