package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FriendRequestStatus tracks the lifecycle of a friend request.
type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "PENDING"
	FriendRequestAccepted FriendRequestStatus = "ACCEPTED"
	FriendRequestRejected FriendRequestStatus = "REJECTED"
)

// FriendRequest is an invitation from Sender to Receiver.
type FriendRequest struct {
	ID         string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	SenderID   string              `gorm:"type:varchar(36);not null;index" json:"sender_id"`
	ReceiverID string              `gorm:"type:varchar(36);not null;index" json:"receiver_id"`
	Message    string              `gorm:"size:500" json:"message"`
	Status     FriendRequestStatus `gorm:"size:16;not null;index" json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// BeforeCreate assigns the request identifier.
func (f *FriendRequest) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = FriendRequestPending
	}
	return nil
}

// Friendship links two users. UserID sorts before FriendID.
type Friendship struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_friendships_pair,priority:1" json:"user_id"`
	FriendID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_friendships_pair,priority:2;index" json:"friend_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns the friendship identifier.
func (f *Friendship) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Block records that Blocker does not accept contact from Blocked.
type Block struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	BlockerID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_blocks_pair,priority:1" json:"blocker_id"`
	BlockedID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_blocks_pair,priority:2;index" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns the block identifier.
func (b *Block) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
