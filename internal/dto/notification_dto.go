package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// NotificationData is the typed payload stored with a notification. Each
// notification type has exactly one payload shape.
type NotificationData interface {
	NotificationType() models.NotificationType
}

// MessageNotificationData accompanies MESSAGE notifications.
type MessageNotificationData struct {
	ChatID     string          `json:"chat_id"`
	ChatType   models.ChatType `json:"chat_type"`
	MessageID  string          `json:"message_id"`
	SenderName string          `json:"sender_name"`
}

func (MessageNotificationData) NotificationType() models.NotificationType {
	return models.NotificationTypeMessage
}

// FriendRequestNotificationData accompanies the three friend request notifications.
type FriendRequestNotificationData struct {
	Kind      models.NotificationType `json:"-"`
	RequestID string                  `json:"request_id"`
	UserID    string                  `json:"user_id"`
	UserName  string                  `json:"user_name"`
	Note      string                  `json:"note,omitempty"`
}

func (d FriendRequestNotificationData) NotificationType() models.NotificationType {
	if d.Kind == "" {
		return models.NotificationTypeFriendRequest
	}
	return d.Kind
}

// GroupInviteNotificationData accompanies GROUP_INVITE notifications.
type GroupInviteNotificationData struct {
	ChatID      string `json:"chat_id"`
	ChatName    string `json:"chat_name"`
	InviterID   string `json:"inviter_id"`
	InviterName string `json:"inviter_name"`
}

func (GroupInviteNotificationData) NotificationType() models.NotificationType {
	return models.NotificationTypeGroupInvite
}

// EncodeNotificationData serializes a payload for the notification's JSON column.
func EncodeNotificationData(data NotificationData) (datatypes.JSON, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s notification data: %w", data.NotificationType(), err)
	}
	return datatypes.JSON(raw), nil
}

// DecodeNotificationData parses a stored payload into the shape its type dictates.
func DecodeNotificationData(kind models.NotificationType, raw datatypes.JSON) (NotificationData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch kind {
	case models.NotificationTypeMessage:
		var data MessageNotificationData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, err
		}
		return data, nil
	case models.NotificationTypeFriendRequest, models.NotificationTypeFriendRequestAccepted, models.NotificationTypeFriendRequestRejected:
		var data FriendRequestNotificationData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, err
		}
		data.Kind = kind
		return data, nil
	case models.NotificationTypeGroupInvite:
		var data GroupInviteNotificationData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, err
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown notification type %q", kind)
	}
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID         string                  `json:"id"`
	Type       models.NotificationType `json:"type"`
	Title      string                  `json:"title"`
	Message    string                  `json:"message"`
	SenderID   string                  `json:"sender_id,omitempty"`
	ReceiverID string                  `json:"receiver_id"`
	IsRead     bool                    `json:"is_read"`
	Data       NotificationData        `json:"data,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// NewNotificationResponse converts a notification model. A payload that no longer
// parses is dropped rather than failing the listing.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	data, err := DecodeNotificationData(model.Type, model.Data)
	if err != nil {
		data = nil
	}
	return NotificationResponse{
		ID:         model.ID,
		Type:       model.Type,
		Title:      model.Title,
		Message:    model.Message,
		SenderID:   model.SenderID,
		ReceiverID: model.ReceiverID,
		IsRead:     model.IsRead,
		Data:       data,
		CreatedAt:  model.CreatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// NotificationListQuery filters the caller's notifications.
type NotificationListQuery struct {
	UnreadOnly bool `query:"unread_only"`
	Limit      int  `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset     int  `query:"offset" validate:"omitempty,min=0"`
}

// NotificationListMeta summarises the caller's inbox alongside a page.
type NotificationListMeta struct {
	Total  int64            `json:"total"`
	Unread int64            `json:"unread"`
	Stats  map[string]int64 `json:"stats"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// NotificationList is a page of notifications with its summary.
type NotificationList struct {
	Items []NotificationResponse
	Meta  NotificationListMeta
}

// NotificationsMarkRequest marks listed notifications, or all of them, as read.
type NotificationsMarkRequest struct {
	IDs []string `json:"ids" validate:"omitempty,max=100,dive,required,max=64"`
	All bool     `json:"all"`
}

// NotificationsDeleteRequest deletes listed notifications, or every read one.
type NotificationsDeleteRequest struct {
	IDs     []string `json:"ids" validate:"omitempty,max=100,dive,required,max=64"`
	AllRead bool     `json:"all_read"`
}

// BulkResultResponse reports how many rows a bulk operation touched.
type BulkResultResponse struct {
	Affected int64 `json:"affected"`
}
