package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationType tags both the notification and the schema of its Data payload.
type NotificationType string

const (
	NotificationTypeMessage               NotificationType = "MESSAGE"
	NotificationTypeFriendRequest         NotificationType = "FRIEND_REQUEST"
	NotificationTypeFriendRequestAccepted NotificationType = "FRIEND_REQUEST_ACCEPTED"
	NotificationTypeFriendRequestRejected NotificationType = "FRIEND_REQUEST_REJECTED"
	NotificationTypeGroupInvite           NotificationType = "GROUP_INVITE"
)

// Notification is a persisted alert for a single receiver.
type Notification struct {
	ID         string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type       NotificationType `gorm:"size:40;not null;index" json:"type"`
	Title      string           `gorm:"size:200;not null" json:"title"`
	Message    string           `gorm:"type:text" json:"message"`
	SenderID   string           `gorm:"type:varchar(36);index" json:"sender_id"`
	ReceiverID string           `gorm:"type:varchar(36);not null;index:idx_notifications_receiver_read,priority:1" json:"receiver_id"`
	IsRead     bool             `gorm:"not null;index:idx_notifications_receiver_read,priority:2" json:"is_read"`
	Data       datatypes.JSON   `json:"data"`
	CreatedAt  time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// BeforeCreate assigns the notification identifier.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
