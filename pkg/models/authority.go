package models

import "time"

type Authority struct {
	ID          string    `bson:"_id" json:"id"`
	AuthorityID string    `bson:"authorityId,omitempty" json:"authorityId,omitempty"`
	Name        string    `bson:"name" json:"name"`
	Category    string    `bson:"category,omitempty" json:"category,omitempty"`
	Email       string    `bson:"email,omitempty" json:"email,omitempty"`
	Phone       string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Status      string    `bson:"status" json:"status"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}

const (
	AuthorityActive   = "Active"
	AuthorityInactive = "Inactive"
)

// AuthorityWorkload carries the counters derived from complaint data.
type AuthorityWorkload struct {
	Authority
	AssignedCount int `json:"assignedCount"`
	ResolvedCount int `json:"resolvedCount"`
}
