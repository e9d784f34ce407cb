package dto

import (
	"time"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// FriendRequestCreateRequest sends a friend request with an optional note.
type FriendRequestCreateRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required,max=64"`
	Message    string `json:"message" validate:"omitempty,max=500"`
}

// FriendRequestResponse describes a friend request.
type FriendRequestResponse struct {
	ID         string                     `json:"id"`
	SenderID   string                     `json:"sender_id"`
	ReceiverID string                     `json:"receiver_id"`
	Message    string                     `json:"message,omitempty"`
	Status     models.FriendRequestStatus `json:"status"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// NewFriendRequestResponse converts a friend request model.
func NewFriendRequestResponse(model models.FriendRequest) FriendRequestResponse {
	return FriendRequestResponse{
		ID:         model.ID,
		SenderID:   model.SenderID,
		ReceiverID: model.ReceiverID,
		Message:    model.Message,
		Status:     model.Status,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
	}
}

// FriendshipResponse links two users.
type FriendshipResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FriendID  string    `json:"friend_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FriendRequestResolution is returned from accept and reject.
type FriendRequestResolution struct {
	Request    FriendRequestResponse `json:"request"`
	Friendship *FriendshipResponse   `json:"friendship,omitempty"`
}

// NewFriendshipResponse converts a friendship model. Nil yields nil.
func NewFriendshipResponse(model *models.Friendship) *FriendshipResponse {
	if model == nil {
		return nil
	}
	return &FriendshipResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		FriendID:  model.FriendID,
		CreatedAt: model.CreatedAt,
	}
}
