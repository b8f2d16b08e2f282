// Package lifecycle applies authority actions to complaints: status
// changes, assignment, priority and citizen messages.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"complaint-portal/pkg/auth"
	"complaint-portal/pkg/blob"
	"complaint-portal/pkg/events"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/middleware"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Controller never keeps complaint state of its own. Every operation reads
// the current document, writes a patch and reports the stored result.
type Controller struct {
	complaints    store.ComplaintRepository
	notifications store.NotificationStore
	publisher     events.Publisher
	proofs        blob.Store
	now           func() time.Time
}

func NewController(complaints store.ComplaintRepository, notifications store.NotificationStore, publisher events.Publisher, proofs blob.Store) *Controller {
	return &Controller{
		complaints:    complaints,
		notifications: notifications,
		publisher:     publisher,
		proofs:        proofs,
		now:           time.Now,
	}
}

func audit(ctx context.Context, actor auth.Session, c models.Complaint) *zerolog.Logger {
	l := logging.Ctx(ctx).With().
		Str("component", "audit").
		Str("actor", actor.Identity.UserID).
		Str("actor_email", actor.Identity.Email).
		Str("complaint_id", c.ID).
		Logger()
	return &l
}

// Change is a partial edit of one complaint. Nil fields are left alone.
// Assign with a nil or blank Assignee unassigns.
type Change struct {
	Status   *models.Status
	Priority *models.Priority
	Assign   bool
	Assignee *string
}

// patch checks every field before anything is written.
func (ch Change) patch() (models.ComplaintPatch, error) {
	var patch models.ComplaintPatch
	if ch.Status != nil {
		if !ch.Status.Valid() {
			return models.ComplaintPatch{}, fmt.Errorf("%w: %q", models.ErrInvalidStatus, *ch.Status)
		}
		status := *ch.Status
		patch.Status = &status
	}
	if ch.Priority != nil {
		if !ch.Priority.Valid() {
			return models.ComplaintPatch{}, fmt.Errorf("%w: %q", models.ErrInvalidPriority, *ch.Priority)
		}
		priority := *ch.Priority
		patch.Priority = &priority
	}
	if ch.Assign {
		if ch.Assignee != nil && strings.TrimSpace(*ch.Assignee) != "" {
			name := strings.TrimSpace(*ch.Assignee)
			patch.AssignedAuthority = &name
		} else {
			patch.ClearAssignment = true
		}
	}
	return patch, nil
}

// Update writes status, priority and assignment as one patch. A change
// with any invalid field leaves the complaint untouched.
func (c *Controller) Update(ctx context.Context, actor auth.Session, id string, change Change) (models.Complaint, error) {
	patch, err := change.patch()
	if err != nil {
		return models.Complaint{}, err
	}
	if patch.Empty() {
		return models.Complaint{}, fmt.Errorf("%w: no changes supplied", models.ErrValidation)
	}
	return c.commit(ctx, actor, id, patch)
}

// SetStatus writes any valid status, including reopening a completed
// complaint.
func (c *Controller) SetStatus(ctx context.Context, actor auth.Session, id string, status models.Status) (models.Complaint, error) {
	return c.Update(ctx, actor, id, Change{Status: &status})
}

// MarkResolved is SetStatus(Completed).
func (c *Controller) MarkResolved(ctx context.Context, actor auth.Session, id string) (models.Complaint, error) {
	return c.SetStatus(ctx, actor, id, models.StatusCompleted)
}

// Assign sets or clears the assigned authority. Status is not touched.
// A nil or blank authority unassigns.
func (c *Controller) Assign(ctx context.Context, actor auth.Session, id string, authority *string) (models.Complaint, error) {
	return c.Update(ctx, actor, id, Change{Assign: true, Assignee: authority})
}

func (c *Controller) SetPriority(ctx context.Context, actor auth.Session, id string, priority models.Priority) (models.Complaint, error) {
	return c.Update(ctx, actor, id, Change{Priority: &priority})
}

type Proof struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Resolve marks the complaint completed, attaching the uploaded proof
// photo when one is given.
func (c *Controller) Resolve(ctx context.Context, actor auth.Session, id string, proof *Proof) (models.Complaint, error) {
	if proof == nil {
		return c.MarkResolved(ctx, actor, id)
	}
	if c.proofs == nil {
		return models.Complaint{}, fmt.Errorf("resolve %s: proof storage is not configured", id)
	}
	if _, err := c.complaints.Get(ctx, id); err != nil {
		return models.Complaint{}, err
	}

	key := path.Join("proofs", id, uuid.NewString()+strings.ToLower(path.Ext(proof.Filename)))
	url, err := c.proofs.Upload(ctx, key, proof.Body, proof.Size, proof.ContentType)
	if err != nil {
		return models.Complaint{}, fmt.Errorf("resolve %s: %w", id, err)
	}

	completed := models.StatusCompleted
	return c.commit(ctx, actor, id, models.ComplaintPatch{Status: &completed, ResolutionProofURL: &url})
}

// commit stores the patch with a single write, then audits and announces
// each field it touched.
func (c *Controller) commit(ctx context.Context, actor auth.Session, id string, patch models.ComplaintPatch) (models.Complaint, error) {
	before, err := c.complaints.Get(ctx, id)
	if err != nil {
		return models.Complaint{}, err
	}
	if err := c.complaints.Update(ctx, id, patch); err != nil {
		return models.Complaint{}, err
	}
	after := c.reload(ctx, id, patch.Apply(before))
	log := audit(ctx, actor, before)

	if patch.Status != nil {
		to := *patch.Status
		log.Info().
			Str("from", string(before.Status)).
			Str("to", string(to)).
			Msg("complaint status changed")
		middleware.RecordTransition("status", string(to))

		c.publish(ctx, events.ComplaintEvent{
			Type:           events.TypeStatusChanged,
			ComplaintID:    id,
			Title:          before.Title,
			ReporterID:     before.ReporterID,
			Status:         to,
			PreviousStatus: before.Status,
			Actor:          actor.Identity.UserID,
		})
	}

	if patch.Priority != nil {
		log.Info().
			Str("from", string(before.Priority)).
			Str("to", string(*patch.Priority)).
			Msg("complaint priority changed")
		middleware.RecordTransition("priority", string(*patch.Priority))
	}

	if patch.AssignedAuthority != nil || patch.ClearAssignment {
		log.Info().
			Str("from", before.Assigned()).
			Str("to", after.Assigned()).
			Msg("complaint assignment changed")
		middleware.RecordTransition("assignment", assignmentLabel(after))

		c.publish(ctx, events.ComplaintEvent{
			Type:              events.TypeAssigned,
			ComplaintID:       id,
			Title:             before.Title,
			ReporterID:        before.ReporterID,
			Status:            after.Status,
			AssignedAuthority: after.Assigned(),
			Actor:             actor.Identity.UserID,
		})
	}
	return after, nil
}

// reload returns the stored complaint after a write, or the expected
// state when the read back fails.
func (c *Controller) reload(ctx context.Context, id string, expected models.Complaint) models.Complaint {
	fresh, err := c.complaints.Get(ctx, id)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("complaint_id", id).Msg("failed to read back complaint")
		return expected
	}
	return fresh
}

func assignmentLabel(c models.Complaint) string {
	if c.Assigned() == "" {
		return "unassigned"
	}
	return "assigned"
}

// SendCitizenMessage keeps one notification per complaint: the first
// message creates it, later ones overwrite its text and mark it unread.
func (c *Controller) SendCitizenMessage(ctx context.Context, actor auth.Session, id, text string) (models.Notification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Notification{}, models.ErrEmptyMessage
	}

	complaint, err := c.complaints.Get(ctx, id)
	if err != nil {
		return models.Notification{}, err
	}
	if complaint.ReporterID == "" {
		return models.Notification{}, fmt.Errorf("complaint %s: %w", id, models.ErrMissingReporter)
	}

	now := c.now()
	var note models.Notification
	if complaint.NotificationID != nil {
		note, err = c.overwriteMessage(ctx, *complaint.NotificationID, text, now)
	} else {
		note, err = c.createMessage(ctx, complaint, text, now)
	}
	if err != nil {
		return models.Notification{}, err
	}

	audit(ctx, actor, complaint).Info().
		Str("notification_id", note.ID).
		Msg("citizen message sent")
	middleware.RecordTransition("message", "sent")

	c.publish(ctx, events.ComplaintEvent{
		Type:        events.TypeMessage,
		ComplaintID: complaint.ID,
		Title:       complaint.Title,
		ReporterID:  complaint.ReporterID,
		Status:      complaint.Status,
		Message:     text,
		Actor:       actor.Identity.UserID,
	})
	return note, nil
}

func (c *Controller) overwriteMessage(ctx context.Context, noteID, text string, at time.Time) (models.Notification, error) {
	if err := c.notifications.UpdateNotificationMessage(ctx, noteID, text, at); err != nil {
		return models.Notification{}, err
	}
	return c.notifications.GetNotification(ctx, noteID)
}

// createMessage creates the first notification and links it. When another
// send linked one first, the new notification is removed and the linked
// one is overwritten instead.
func (c *Controller) createMessage(ctx context.Context, complaint models.Complaint, text string, at time.Time) (models.Notification, error) {
	note := models.Notification{
		UserID:      complaint.ReporterID,
		Title:       notificationTitle(complaint),
		Message:     text,
		ComplaintID: complaint.ID,
		Read:        false,
		CreatedAt:   at,
	}
	var err error
	note.ID, err = c.notifications.CreateNotification(ctx, note)
	if err != nil {
		return models.Notification{}, err
	}

	linked, err := c.complaints.LinkNotification(ctx, complaint.ID, note.ID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("complaint_id", complaint.ID).
			Str("notification_id", note.ID).
			Msg("notification created but not linked to complaint")
		c.discard(ctx, note.ID)
		return models.Notification{}, err
	}
	if linked {
		return note, nil
	}

	c.discard(ctx, note.ID)
	current, err := c.complaints.Get(ctx, complaint.ID)
	if err != nil {
		return models.Notification{}, err
	}
	if current.NotificationID == nil {
		return models.Notification{}, fmt.Errorf("complaint %s: %w: notification link lost", complaint.ID, models.ErrConflict)
	}
	return c.overwriteMessage(ctx, *current.NotificationID, text, at)
}

func (c *Controller) discard(ctx context.Context, noteID string) {
	if err := c.notifications.DeleteNotification(ctx, noteID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("notification_id", noteID).Msg("failed to remove unlinked notification")
	}
}

func notificationTitle(c models.Complaint) string {
	if c.Title == "" {
		return "Update on your complaint"
	}
	return "Update on your complaint: " + c.Title
}

// publish is best effort; the store write already succeeded.
func (c *Controller) publish(ctx context.Context, ev events.ComplaintEvent) {
	if c.publisher == nil {
		return
	}
	ev.OccurredAt = c.now()
	if err := c.publisher.Publish(ctx, ev); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("event", ev.Type).
			Str("complaint_id", ev.ComplaintID).
			Msg("complaint updated but failed to publish event")
	}
}
