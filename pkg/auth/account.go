package auth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is an email/password identity.
type Account struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string         `gorm:"uniqueIndex;not null" json:"email"`
	Password  string         `gorm:"not null" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Identity is the authenticated principal behind a session.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Session is an issued, signed token together with what it proves.
type Session struct {
	ID        string    `json:"-"`
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}
