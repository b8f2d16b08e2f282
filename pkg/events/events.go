// Package events carries complaint lifecycle events from the admin API to
// the dispatcher.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"complaint-portal/pkg/models"
	"complaint-portal/pkg/queue"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	TypeStatusChanged = "complaint.status_changed"
	TypeAssigned      = "complaint.assigned"
	TypeMessage       = "complaint.message"
)

// DefaultQueue is the durable queue complaint events travel on.
const DefaultQueue = "complaint_events"

type ComplaintEvent struct {
	Type              string        `json:"type"`
	ComplaintID       string        `json:"complaintId"`
	Title             string        `json:"title"`
	ReporterID        string        `json:"reporterId,omitempty"`
	Status            models.Status `json:"status,omitempty"`
	PreviousStatus    models.Status `json:"previousStatus,omitempty"`
	AssignedAuthority string        `json:"assignedAuthority,omitempty"`
	Message           string        `json:"message,omitempty"`
	Actor             string        `json:"actor"`
	OccurredAt        time.Time     `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, ev ComplaintEvent) error
}

func Decode(body []byte) (ComplaintEvent, error) {
	var ev ComplaintEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ComplaintEvent{}, fmt.Errorf("decode complaint event: %w", err)
	}
	if ev.ComplaintID == "" || ev.Type == "" {
		return ComplaintEvent{}, fmt.Errorf("decode complaint event: missing type or complaintId")
	}
	return ev, nil
}

// RabbitPublisher publishes persistent JSON messages on one queue.
type RabbitPublisher struct {
	mu        sync.Mutex
	ch        *amqp.Channel
	queueName string
}

func NewRabbitPublisher(ch *amqp.Channel, queueName string) (*RabbitPublisher, error) {
	if err := queue.DeclareQueue(ch, queueName); err != nil {
		return nil, err
	}
	return &RabbitPublisher{ch: ch, queueName: queueName}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, ev ComplaintEvent) error {
	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	return queue.PublishMessage(ctx, p.ch, p.queueName, ev.Type, ev)
}

// MemoryBus delivers events synchronously to in-process handlers.
type MemoryBus struct {
	mu       sync.Mutex
	events   []ComplaintEvent
	handlers []func(context.Context, ComplaintEvent)
	fail     error
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, ev ComplaintEvent) error {
	b.mu.Lock()
	if b.fail != nil {
		err := b.fail
		b.mu.Unlock()
		return err
	}
	b.events = append(b.events, ev)
	handlers := append([]func(context.Context, ComplaintEvent){}, b.handlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(h func(context.Context, ComplaintEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Events returns a copy of everything published so far.
func (b *MemoryBus) Events() []ComplaintEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ComplaintEvent(nil), b.events...)
}

// FailWith makes subsequent publishes return err. Nil restores delivery.
func (b *MemoryBus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}
