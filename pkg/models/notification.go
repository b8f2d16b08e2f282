package models

import "time"

// Notification is the citizen-facing thread for one complaint.
type Notification struct {
	ID          string     `bson:"_id" json:"id"`
	UserID      string     `bson:"userId" json:"userId"`
	Title       string     `bson:"title" json:"title"`
	Message     string     `bson:"message" json:"message"`
	ComplaintID string     `bson:"complaintId" json:"complaintId"`
	Read        bool       `bson:"read" json:"read"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   *time.Time `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

type CommunityUpdate struct {
	ID          string    `bson:"_id" json:"id"`
	EventName   string    `bson:"eventName" json:"eventName"`
	Date        string    `bson:"date" json:"date"`
	Time        string    `bson:"time" json:"time"`
	Description string    `bson:"description" json:"description"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}

// User is the citizen record that owns device tokens and notifications.
type User struct {
	ID                    string     `bson:"_id" json:"id"`
	DeviceTokens          []string   `bson:"deviceTokens,omitempty" json:"deviceTokens,omitempty"`
	Platform              string     `bson:"platform,omitempty" json:"platform,omitempty"`
	LastDeviceTokenUpdate *time.Time `bson:"lastDeviceTokenUpdate,omitempty" json:"lastDeviceTokenUpdate,omitempty"`
}
