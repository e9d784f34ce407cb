package dto

import (
	"time"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// MessageSendRequest is the durable send payload. Media types carry a URL in Content.
type MessageSendRequest struct {
	ChatID    string  `json:"chat_id" validate:"required,max=64"`
	Content   string  `json:"content" validate:"required,max=4000"`
	Type      string  `json:"type" validate:"omitempty,oneof=TEXT IMAGE VIDEO AUDIO VOICE FILE"`
	ReplyToID *string `json:"reply_to_id" validate:"omitempty,max=64"`
}

// MessageHistoryQuery pages backwards through a chat. Before is a message id.
type MessageHistoryQuery struct {
	ChatID string `query:"chat_id" validate:"required,max=64"`
	Before string `query:"before" validate:"omitempty,max=64"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
}

// MessageResponse always carries plaintext content. Undecryptable messages keep
// their slot in a page with empty content.
type MessageResponse struct {
	ID            string             `json:"id"`
	ChatID        string             `json:"chat_id"`
	Seq           int64              `json:"seq"`
	SenderID      string             `json:"sender_id"`
	Sender        *UserSummary       `json:"sender,omitempty"`
	ReplyToID     *string            `json:"reply_to_id,omitempty"`
	Content       string             `json:"content"`
	Type          models.MessageType `json:"type"`
	Encrypted     bool               `json:"encrypted"`
	Undecryptable bool               `json:"undecryptable,omitempty"`
	IsRead        bool               `json:"is_read"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewMessageResponse converts a message whose content has already been decoded.
func NewMessageResponse(message models.Message, plaintext string, undecryptable bool) MessageResponse {
	return MessageResponse{
		ID:            message.ID,
		ChatID:        message.ChatID,
		Seq:           message.Seq,
		SenderID:      message.SenderID,
		Sender:        NewUserSummary(message.Sender),
		ReplyToID:     message.ReplyToID,
		Content:       plaintext,
		Type:          message.Type,
		Encrypted:     message.Encrypted,
		Undecryptable: undecryptable,
		IsRead:        message.IsRead,
		CreatedAt:     message.CreatedAt,
		UpdatedAt:     message.UpdatedAt,
	}
}

// MessagePageMeta describes a history page.
type MessagePageMeta struct {
	Count      int    `json:"count"`
	NextBefore string `json:"next_before,omitempty"`
}
