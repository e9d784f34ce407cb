package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatType distinguishes two-party conversations from groups.
type ChatType string

const (
	ChatTypePrivate ChatType = "PRIVATE"
	ChatTypeGroup   ChatType = "GROUP"
)

// MemberRole is a member's authority within a group chat.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "OWNER"
	MemberRoleAdmin  MemberRole = "ADMIN"
	MemberRoleMember MemberRole = "MEMBER"
)

// CanModerate reports whether the role may manage members and delete others' messages.
func (r MemberRole) CanModerate() bool {
	return r == MemberRoleOwner || r == MemberRoleAdmin
}

// Chat is a conversation container. LastSeq is the sequence number of the newest
// message and only ever increases.
type Chat struct {
	ID            string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name          string       `gorm:"size:120" json:"name"`
	Type          ChatType     `gorm:"size:16;not null;index" json:"type"`
	PairKey       *string      `gorm:"size:80;uniqueIndex" json:"-"`
	CreatedBy     string       `gorm:"type:varchar(36);not null" json:"created_by"`
	LastSeq       int64        `gorm:"not null" json:"last_seq"`
	LastMessageAt *time.Time   `json:"last_message_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `gorm:"index" json:"updated_at"`
	Members       []ChatMember `gorm:"foreignKey:ChatID" json:"members,omitempty"`
}

// BeforeCreate assigns the chat identifier.
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// PrivatePairKey returns the order-independent key identifying a private chat.
func PrivatePairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// ChatMember joins a user to a chat and carries the read watermark.
type ChatMember struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID      string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_chat_members_chat_user,priority:1" json:"chat_id"`
	UserID      string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_chat_members_chat_user,priority:2;index" json:"user_id"`
	Role        MemberRole `gorm:"size:16;not null" json:"role"`
	JoinedAt    time.Time  `gorm:"not null" json:"joined_at"`
	LastRead    time.Time  `gorm:"not null" json:"last_read"`
	LastReadSeq int64      `gorm:"not null" json:"last_read_seq"`
	User        *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// BeforeCreate assigns the membership identifier and join time.
func (m *ChatMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	if m.LastRead.IsZero() {
		m.LastRead = m.JoinedAt
	}
	return nil
}
