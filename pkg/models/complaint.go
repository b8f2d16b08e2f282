package models

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
)

// Statuses lists the closed status set in workflow order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Complaint is the in-memory view of an "issues" document.
type Complaint struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Location           string    `json:"location"`
	Category           string    `json:"category"`
	Status             Status    `json:"status"`
	Priority           Priority  `json:"priority"`
	AssignedAuthority  *string   `json:"assignedAuthority"`
	ImageURL           string    `json:"imageUrl,omitempty"`
	ResolutionProofURL string    `json:"resolutionProofUrl,omitempty"`
	SubmittedAt        time.Time `json:"submittedAt"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
	ReporterID         string    `json:"reporterId,omitempty"`
	NotificationID     *string   `json:"notificationId,omitempty"`
}

// Assigned returns the assigned authority or "" when unassigned.
func (c Complaint) Assigned() string {
	if c.AssignedAuthority == nil {
		return ""
	}
	return *c.AssignedAuthority
}

// ComplaintPatch is a partial field change. Nil fields are left untouched.
// ClearAssignment unassigns the complaint and wins over AssignedAuthority.
type ComplaintPatch struct {
	Status             *Status
	Priority           *Priority
	AssignedAuthority  *string
	ClearAssignment    bool
	NotificationID     *string
	ResolutionProofURL *string
}

func (p ComplaintPatch) Empty() bool {
	return p.Status == nil && p.Priority == nil && p.AssignedAuthority == nil &&
		!p.ClearAssignment && p.NotificationID == nil && p.ResolutionProofURL == nil
}

// Apply returns a copy of c with the patch applied.
func (p ComplaintPatch) Apply(c Complaint) Complaint {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.ClearAssignment {
		c.AssignedAuthority = nil
	} else if p.AssignedAuthority != nil {
		v := *p.AssignedAuthority
		c.AssignedAuthority = &v
	}
	if p.NotificationID != nil {
		v := *p.NotificationID
		c.NotificationID = &v
	}
	if p.ResolutionProofURL != nil {
		c.ResolutionProofURL = *p.ResolutionProofURL
	}
	return c
}
