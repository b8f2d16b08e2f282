package store

import (
	"strings"
	"time"

	"complaint-portal/pkg/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Field names of stored "issues" documents.
const (
	fieldType        = "type"
	fieldDescription = "description"
	fieldAddress     = "address"
	fieldStatus      = "status"
	fieldPriority    = "priority"
	fieldAssignedTo  = "assignedTo"
	fieldImageURL    = "imageUrl"
	fieldProofURL    = "resolutionProofUrl"
	fieldTimestamp   = "timestamp"
	fieldUserID      = "userId"
	fieldNotifyID    = "notificationId"
	fieldUpdatedAt   = "updatedAt"
)

func complaintFromDocument(doc bson.M) models.Complaint {
	c := models.Complaint{
		ID:                 idString(doc["_id"]),
		Title:              stringField(doc, fieldType),
		Description:        stringField(doc, fieldDescription),
		Location:           stringField(doc, fieldAddress),
		Category:           stringField(doc, fieldType),
		Status:             models.Status(stringField(doc, fieldStatus)),
		Priority:           models.Priority(stringField(doc, fieldPriority)),
		ImageURL:           stringField(doc, fieldImageURL),
		ResolutionProofURL: stringField(doc, fieldProofURL),
		SubmittedAt:        parseTimestamp(doc[fieldTimestamp]),
		UpdatedAt:          parseTimestamp(doc[fieldUpdatedAt]),
		ReporterID:         stringField(doc, fieldUserID),
		AssignedAuthority:  optionalString(doc, fieldAssignedTo),
		NotificationID:     optionalString(doc, fieldNotifyID),
	}
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.Priority == "" {
		c.Priority = models.PriorityMedium
	}
	return c
}

func complaintToDocument(c models.Complaint) bson.M {
	doc := bson.M{
		fieldType:        c.Title,
		fieldDescription: c.Description,
		fieldAddress:     c.Location,
		fieldStatus:      string(c.Status),
		fieldPriority:    string(c.Priority),
		fieldTimestamp:   primitive.NewDateTimeFromTime(c.SubmittedAt),
	}
	if c.Category != "" && c.Title == "" {
		doc[fieldType] = c.Category
	}
	if c.AssignedAuthority != nil {
		doc[fieldAssignedTo] = *c.AssignedAuthority
	} else {
		doc[fieldAssignedTo] = nil
	}
	if c.ImageURL != "" {
		doc[fieldImageURL] = c.ImageURL
	}
	if c.ReporterID != "" {
		doc[fieldUserID] = c.ReporterID
	}
	return doc
}

// patchToUpdate builds the $set document for a partial complaint change.
func patchToUpdate(p models.ComplaintPatch, now time.Time) bson.M {
	set := bson.M{fieldUpdatedAt: primitive.NewDateTimeFromTime(now)}
	if p.Status != nil {
		set[fieldStatus] = string(*p.Status)
	}
	if p.Priority != nil {
		set[fieldPriority] = string(*p.Priority)
	}
	if p.ClearAssignment {
		set[fieldAssignedTo] = nil
	} else if p.AssignedAuthority != nil {
		set[fieldAssignedTo] = *p.AssignedAuthority
	}
	if p.NotificationID != nil {
		set[fieldNotifyID] = *p.NotificationID
	}
	if p.ResolutionProofURL != nil {
		set[fieldProofURL] = *p.ResolutionProofURL
	}
	return bson.M{"$set": set}
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return ""
	}
}

// idFilter matches documents keyed by either an ObjectID or a plain string.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

func stringField(doc bson.M, key string) string {
	s, _ := doc[key].(string)
	return s
}

func optionalString(doc bson.M, key string) *string {
	s, ok := doc[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

var timestampLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// parseTimestamp accepts BSON datetimes, epoch milliseconds and date
// strings. Anything else yields the zero time.
func parseTimestamp(v interface{}) time.Time {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	case int32:
		return time.UnixMilli(int64(t)).UTC()
	case int:
		return time.UnixMilli(int64(t)).UTC()
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}
