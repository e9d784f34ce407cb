package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserStatus is the presence state shown to other users.
type UserStatus string

const (
	UserStatusOnline       UserStatus = "ONLINE"
	UserStatusOffline      UserStatus = "OFFLINE"
	UserStatusAway         UserStatus = "AWAY"
	UserStatusBusy         UserStatus = "BUSY"
	UserStatusDoNotDisturb UserStatus = "DO_NOT_DISTURB"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusOnline, UserStatusOffline, UserStatusAway, UserStatusBusy, UserStatusDoNotDisturb:
		return true
	}
	return false
}

// User is the chat participant identity. Profile fields are owned by the account
// service; this service only mutates Status and LastSeen.
type User struct {
	ID                   string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name                 string     `gorm:"size:120;not null" json:"name"`
	Email                string     `gorm:"size:255;index" json:"email"`
	Avatar               string     `gorm:"size:512" json:"avatar"`
	Status               UserStatus `gorm:"size:20;not null" json:"status"`
	LastSeen             *time.Time `json:"last_seen"`
	NotificationsEnabled bool       `gorm:"not null" json:"notifications_enabled"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// BeforeCreate assigns identifiers and the initial presence state.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = UserStatusOffline
	}
	return nil
}
