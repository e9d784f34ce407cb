package realtime

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
)

// EventType names a realtime event. Payloads are flat JSON objects carrying their
// type in the "type" field.
type EventType string

// Client to server events.
const (
	EventJoin          EventType = "join"
	EventStatusChange  EventType = "status-change"
	EventMarkRead      EventType = "mark-read"
	EventSendMessage   EventType = "send-message"
	EventJoinChat      EventType = "join-chat"
	EventLeaveChat     EventType = "leave-chat"
	EventTypingStarted EventType = "typing"
	EventHeartbeat     EventType = "heartbeat"
)

// Server to client events.
const (
	EventNewMessage     EventType = "new-message"
	EventUserOnline     EventType = "user-online"
	EventUserOffline    EventType = "user-offline"
	EventStatusChanged  EventType = "status-changed"
	EventMessagesRead   EventType = "messages-read"
	EventMessageDeleted EventType = "message-deleted"
	EventNotification   EventType = "notification"
	EventChatDeleted    EventType = "chat-deleted"
	EventMemberLeft     EventType = "member-left"
	EventTyping         EventType = "user-typing"
	EventError          EventType = "error"
)

// Event is any server to client payload.
type Event interface {
	EventType() EventType
}

type envelopeHeader struct {
	Type EventType `json:"type"`
}

// Inbound client payloads. Unknown fields are ignored by encoding/json.
type (
	joinPayload struct {
		UserID string `json:"user_id"`
	}
	statusChangePayload struct {
		UserID string            `json:"user_id"`
		Status models.UserStatus `json:"status"`
	}
	chatPayload struct {
		ChatID string `json:"chat_id"`
	}
	sendMessagePayload struct {
		MessageID string `json:"message_id"`
	}
)

// NewMessageEvent pushes a persisted, decrypted message.
type NewMessageEvent struct {
	Type    EventType           `json:"type"`
	Message dto.MessageResponse `json:"message"`
}

func (NewMessageEvent) EventType() EventType { return EventNewMessage }

// NewMessage builds a new-message event.
func NewMessage(message dto.MessageResponse) NewMessageEvent {
	return NewMessageEvent{Type: EventNewMessage, Message: message}
}

// PresenceEvent covers user-online, user-offline and status-changed.
type PresenceEvent struct {
	Type     EventType         `json:"type"`
	UserID   string            `json:"user_id"`
	Status   models.UserStatus `json:"status"`
	LastSeen *time.Time        `json:"last_seen,omitempty"`
}

func (e PresenceEvent) EventType() EventType { return e.Type }

// PresenceChange renders a registry transition as the matching event.
func PresenceChange(t Transition) PresenceEvent {
	event := PresenceEvent{Type: EventStatusChanged, UserID: t.UserID, Status: t.To}
	switch {
	case t.From == models.UserStatusOffline:
		event.Type = EventUserOnline
	case t.To == models.UserStatusOffline:
		event.Type = EventUserOffline
		at := t.At
		event.LastSeen = &at
	}
	return event
}

// MessagesReadEvent announces that a member's watermark moved.
type MessagesReadEvent struct {
	Type        EventType `json:"type"`
	ChatID      string    `json:"chat_id"`
	ReaderID    string    `json:"reader_id"`
	LastRead    time.Time `json:"last_read"`
	LastReadSeq int64     `json:"last_read_seq"`
}

func (MessagesReadEvent) EventType() EventType { return EventMessagesRead }

// MessagesRead builds a messages-read event.
func MessagesRead(receipt dto.ReadReceiptResponse) MessagesReadEvent {
	return MessagesReadEvent{
		Type:        EventMessagesRead,
		ChatID:      receipt.ChatID,
		ReaderID:    receipt.ReaderID,
		LastRead:    receipt.LastRead,
		LastReadSeq: receipt.LastReadSeq,
	}
}

// MessageDeletedEvent announces a removed message.
type MessageDeletedEvent struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
}

func (MessageDeletedEvent) EventType() EventType { return EventMessageDeleted }

// MessageDeleted builds a message-deleted event.
func MessageDeleted(chatID, messageID string) MessageDeletedEvent {
	return MessageDeletedEvent{Type: EventMessageDeleted, ChatID: chatID, MessageID: messageID}
}

// NotificationEvent pushes a freshly persisted notification to its receiver.
type NotificationEvent struct {
	Type         EventType                `json:"type"`
	Notification dto.NotificationResponse `json:"notification"`
}

func (NotificationEvent) EventType() EventType { return EventNotification }

// Notification builds a notification event.
func Notification(notification dto.NotificationResponse) NotificationEvent {
	return NotificationEvent{Type: EventNotification, Notification: notification}
}

// ChatDeletedEvent tells former members a chat no longer exists.
type ChatDeletedEvent struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id"`
}

func (ChatDeletedEvent) EventType() EventType { return EventChatDeleted }

// ChatDeleted builds a chat-deleted event.
func ChatDeleted(chatID string) ChatDeletedEvent {
	return ChatDeletedEvent{Type: EventChatDeleted, ChatID: chatID}
}

// MemberLeftEvent tells the members of a surviving chat that someone left or was
// removed. NewOwnerID is set when ownership moved as part of the departure.
type MemberLeftEvent struct {
	Type       EventType `json:"type"`
	ChatID     string    `json:"chat_id"`
	UserID     string    `json:"user_id"`
	NewOwnerID string    `json:"new_owner_id,omitempty"`
}

func (MemberLeftEvent) EventType() EventType { return EventMemberLeft }

// MemberLeft builds a member-left event.
func MemberLeft(chatID, userID, newOwnerID string) MemberLeftEvent {
	return MemberLeftEvent{Type: EventMemberLeft, ChatID: chatID, UserID: userID, NewOwnerID: newOwnerID}
}

// TypingEvent relays a typing indicator to the rest of a chat room.
type TypingEvent struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id"`
	UserID string    `json:"user_id"`
}

func (TypingEvent) EventType() EventType { return EventTyping }

// ErrorEvent reports a rejected client event to its origin connection only.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Event   EventType `json:"event"`
	Message string    `json:"message"`
}

func (ErrorEvent) EventType() EventType { return EventError }

func encodeEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}
