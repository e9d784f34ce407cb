package dto

import (
	"time"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// ChatCreateRequest opens a private chat with one user or creates a group.
type ChatCreateRequest struct {
	Type      string   `json:"type" validate:"required,oneof=PRIVATE GROUP"`
	Name      string   `json:"name" validate:"omitempty,max=120"`
	MemberIDs []string `json:"member_ids" validate:"required,min=1,max=100,dive,required,max=64"`
}

// ChatMembersAddRequest invites users into a group chat.
type ChatMembersAddRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=100,dive,required,max=64"`
}

// ChatMemberRoleRequest changes a member's role. Ownership is never assigned directly.
type ChatMemberRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=ADMIN MEMBER"`
}

// UserSummary is the public profile embedded in chat and message payloads.
type UserSummary struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Avatar   string            `json:"avatar,omitempty"`
	Status   models.UserStatus `json:"status,omitempty"`
	LastSeen *time.Time        `json:"last_seen,omitempty"`
}

// NewUserSummary converts a user model. Nil users yield nil.
func NewUserSummary(user *models.User) *UserSummary {
	if user == nil {
		return nil
	}
	return &UserSummary{
		ID:       user.ID,
		Name:     user.Name,
		Avatar:   user.Avatar,
		Status:   user.Status,
		LastSeen: user.LastSeen,
	}
}

// ChatMemberResponse describes one membership.
type ChatMemberResponse struct {
	UserID   string            `json:"user_id"`
	Role     models.MemberRole `json:"role"`
	JoinedAt time.Time         `json:"joined_at"`
	LastRead time.Time         `json:"last_read"`
	User     *UserSummary      `json:"user,omitempty"`
}

// NewChatMemberResponse converts a membership model.
func NewChatMemberResponse(member models.ChatMember) ChatMemberResponse {
	return ChatMemberResponse{
		UserID:   member.UserID,
		Role:     member.Role,
		JoinedAt: member.JoinedAt,
		LastRead: member.LastRead,
		User:     NewUserSummary(member.User),
	}
}

// NewChatMemberResponseSlice converts memberships to DTOs.
func NewChatMemberResponseSlice(members []models.ChatMember) []ChatMemberResponse {
	out := make([]ChatMemberResponse, 0, len(members))
	for _, member := range members {
		out = append(out, NewChatMemberResponse(member))
	}
	return out
}

// ChatResponse is the serialized chat including the caller's unread count.
type ChatResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name,omitempty"`
	Type        models.ChatType      `json:"type"`
	CreatedBy   string               `json:"created_by"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Members     []ChatMemberResponse `json:"members"`
	LastMessage *MessageResponse     `json:"last_message,omitempty"`
	UnreadCount int64                `json:"unread_count"`
}

// NewChatResponse converts a chat model; callers fill LastMessage and UnreadCount.
func NewChatResponse(chat models.Chat) ChatResponse {
	return ChatResponse{
		ID:        chat.ID,
		Name:      chat.Name,
		Type:      chat.Type,
		CreatedBy: chat.CreatedBy,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
		Members:   NewChatMemberResponseSlice(chat.Members),
	}
}

// ChatLeaveResponse reports what leaving did to the chat.
type ChatLeaveResponse struct {
	ChatID      string `json:"chat_id"`
	ChatDeleted bool   `json:"chat_deleted"`
	NewOwnerID  string `json:"new_owner_id,omitempty"`
}

// ChatUnreadResponse is the unread count of one chat.
type ChatUnreadResponse struct {
	ChatID string `json:"chat_id"`
	Unread int64  `json:"unread"`
}

// UnreadSummaryResponse is the caller's unread total with a per-chat breakdown.
type UnreadSummaryResponse struct {
	Total int64                `json:"total"`
	Chats []ChatUnreadResponse `json:"chats"`
}

// ReadReceiptResponse is returned by mark-read.
type ReadReceiptResponse struct {
	ChatID      string    `json:"chat_id"`
	ReaderID    string    `json:"reader_id"`
	LastRead    time.Time `json:"last_read"`
	LastReadSeq int64     `json:"last_read_seq"`
}
