package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeVideo MessageType = "VIDEO"
	MessageTypeAudio MessageType = "AUDIO"
	MessageTypeVoice MessageType = "VOICE"
	MessageTypeFile  MessageType = "FILE"
)

// Message is a single chat entry. Seq is assigned per chat inside the insert
// transaction, so ordering by Seq matches insertion order.
type Message struct {
	ID        string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string      `gorm:"type:varchar(36);not null;uniqueIndex:idx_messages_chat_seq,priority:1" json:"chat_id"`
	Seq       int64       `gorm:"not null;uniqueIndex:idx_messages_chat_seq,priority:2" json:"seq"`
	SenderID  string      `gorm:"type:varchar(36);not null;index" json:"sender_id"`
	ReplyToID *string     `gorm:"type:varchar(36)" json:"reply_to_id"`
	Content   string      `gorm:"type:text;not null" json:"-"`
	Encrypted bool        `gorm:"not null" json:"encrypted"`
	Type      MessageType `gorm:"size:16;not null" json:"type"`
	IsRead    bool        `gorm:"not null" json:"is_read"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Sender    *User       `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

// BeforeCreate assigns the message identifier.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
