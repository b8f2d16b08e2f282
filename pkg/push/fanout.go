package push

import (
	"context"
	"fmt"

	"complaint-portal/pkg/events"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/middleware"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/store"
)

const descriptionPreview = 50

// Fanout turns store triggers and complaint events into push deliveries.
type Fanout struct {
	users  store.UserStore
	sender Sender
}

func NewFanout(users store.UserStore, sender Sender) *Fanout {
	return &Fanout{users: users, sender: sender}
}

func CommunityUpdatePayload(u models.CommunityUpdate) Payload {
	title := "📢 " + u.EventName
	body := fmt.Sprintf("%s • %s", u.Date, u.Time)
	return Payload{
		Title:       title,
		Body:        body,
		AndroidBody: fmt.Sprintf("%s - %s...", body, preview(u.Description, descriptionPreview)),
		ChannelID:   ChannelCommunityUpdates,
		ClickAction: ClickCommunityUpdate,
		Data: map[string]string{
			"eventName":        u.EventName,
			"date":             u.Date,
			"time":             u.Time,
			"description":      u.Description,
			"updateId":         u.ID,
			"notificationType": TypeCommunityUpdate,
		},
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// CommunityUpdate broadcasts a new update to every registered device.
func (f *Fanout) CommunityUpdate(ctx context.Context, u models.CommunityUpdate) (Result, error) {
	log := logging.Ctx(ctx).With().Str("update_id", u.ID).Logger()
	log.Info().
		Str("event", u.EventName).
		Str("date", u.Date).
		Str("time", u.Time).
		Msg("new community update created")

	tokens, err := f.users.AllDeviceTokens(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("collect device tokens: %w", err)
	}
	if len(tokens) == 0 {
		log.Info().Msg("no device tokens available")
		return Result{}, nil
	}
	return f.deliver(ctx, tokens, CommunityUpdatePayload(u), TypeCommunityUpdate)
}

func ComplaintEventPayload(ev events.ComplaintEvent) (Payload, bool) {
	title := "Complaint update"
	if ev.Title != "" {
		title = ev.Title
	}

	var body string
	switch ev.Type {
	case events.TypeStatusChanged:
		body = fmt.Sprintf("Status changed to %s", ev.Status)
	case events.TypeAssigned:
		if ev.AssignedAuthority == "" {
			return Payload{}, false
		}
		body = fmt.Sprintf("Assigned to %s", ev.AssignedAuthority)
	case events.TypeMessage:
		body = ev.Message
	default:
		return Payload{}, false
	}

	return Payload{
		Title:       title,
		Body:        body,
		ChannelID:   ChannelComplaintUpdates,
		ClickAction: ClickComplaintUpdate,
		Data: map[string]string{
			"complaintId":      ev.ComplaintID,
			"status":           string(ev.Status),
			"eventType":        ev.Type,
			"notificationType": TypeComplaintUpdate,
		},
	}, true
}

// ComplaintEvent notifies the reporter's devices. Events without a
// reporter, or that carry nothing worth a push, are skipped.
func (f *Fanout) ComplaintEvent(ctx context.Context, ev events.ComplaintEvent) (Result, error) {
	if ev.ReporterID == "" {
		return Result{}, nil
	}
	payload, ok := ComplaintEventPayload(ev)
	if !ok {
		return Result{}, nil
	}

	tokens, err := f.users.DeviceTokens(ctx, ev.ReporterID)
	if err != nil {
		return Result{}, fmt.Errorf("reporter tokens: %w", err)
	}
	if len(tokens) == 0 {
		return Result{}, nil
	}
	return f.deliver(ctx, tokens, payload, TypeComplaintUpdate)
}

func (f *Fanout) deliver(ctx context.Context, tokens []string, p Payload, kind string) (Result, error) {
	log := logging.Ctx(ctx)
	log.Info().Int("devices", len(tokens)).Str("type", kind).Msg("sending notifications")

	res, err := f.sender.SendMulticast(ctx, tokens, p)
	middleware.RecordPush(kind, res.SuccessCount, res.FailureCount)
	if err != nil {
		return res, err
	}

	log.Info().Int("success", res.SuccessCount).Int("failure", res.FailureCount).Msg("notifications sent")
	if res.FailureCount > 0 {
		log.Warn().Strs("failed_tokens", res.FailedTokens()).Msg("failed tokens")
	}
	for _, r := range res.Responses {
		if !r.Unregistered {
			continue
		}
		if err := f.users.PruneDeviceToken(ctx, r.Token); err != nil {
			log.Warn().Err(err).Msg("failed to prune unregistered token")
		}
	}
	return res, nil
}
