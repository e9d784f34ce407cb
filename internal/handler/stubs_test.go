package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Meta    json.RawMessage   `json:"meta"`
	Details map[string]string `json:"details"`
}

// withUser stands in for the JWT middleware.
func withUser(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		return c.Next()
	}
}

func doRequest(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

type stubChatService struct {
	err       error
	created   bool
	chat      dto.ChatResponse
	lastActor string
	lastChat  string
	lastUser  string
	lastReq   interface{}
}

func (s *stubChatService) CreateOrReuse(_ context.Context, actorID string, req dto.ChatCreateRequest) (dto.ChatResponse, bool, error) {
	s.lastActor, s.lastReq = actorID, req
	return s.chat, s.created, s.err
}

func (s *stubChatService) Get(_ context.Context, actorID, chatID string) (dto.ChatResponse, error) {
	s.lastActor, s.lastChat = actorID, chatID
	return s.chat, s.err
}

func (s *stubChatService) List(_ context.Context, actorID string) ([]dto.ChatResponse, error) {
	s.lastActor = actorID
	if s.err != nil {
		return nil, s.err
	}
	return []dto.ChatResponse{s.chat}, nil
}

func (s *stubChatService) Leave(_ context.Context, actorID, chatID string) (dto.ChatLeaveResponse, error) {
	s.lastActor, s.lastChat = actorID, chatID
	return dto.ChatLeaveResponse{ChatID: chatID}, s.err
}

func (s *stubChatService) AddMembers(_ context.Context, actorID, chatID string, req dto.ChatMembersAddRequest) (dto.ChatResponse, error) {
	s.lastActor, s.lastChat, s.lastReq = actorID, chatID, req
	return s.chat, s.err
}

func (s *stubChatService) UpdateMemberRole(_ context.Context, actorID, chatID, userID string, req dto.ChatMemberRoleRequest) (dto.ChatResponse, error) {
	s.lastActor, s.lastChat, s.lastUser, s.lastReq = actorID, chatID, userID, req
	return s.chat, s.err
}

func (s *stubChatService) RemoveMember(_ context.Context, actorID, chatID, userID string) (dto.ChatResponse, error) {
	s.lastActor, s.lastChat, s.lastUser = actorID, chatID, userID
	return s.chat, s.err
}

func (s *stubChatService) Authorize(context.Context, string, string) error {
	return s.err
}

type stubMessageService struct {
	err       error
	message   dto.MessageResponse
	page      []dto.MessageResponse
	meta      dto.MessagePageMeta
	lastQuery dto.MessageHistoryQuery
	lastSend  dto.MessageSendRequest
	deleted   string
	readChat  string
}

func (s *stubMessageService) Send(_ context.Context, _ string, req dto.MessageSendRequest) (dto.MessageResponse, error) {
	s.lastSend = req
	return s.message, s.err
}

func (s *stubMessageService) List(_ context.Context, _ string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, dto.MessagePageMeta, error) {
	s.lastQuery = query
	return s.page, s.meta, s.err
}

func (s *stubMessageService) Delete(_ context.Context, _ string, messageID string) error {
	s.deleted = messageID
	return s.err
}

func (s *stubMessageService) MarkRead(_ context.Context, actorID, chatID string) (dto.ReadReceiptResponse, error) {
	s.readChat = chatID
	return dto.ReadReceiptResponse{ChatID: chatID, ReaderID: actorID}, s.err
}

func (s *stubMessageService) Relay(context.Context, string, string) error {
	return s.err
}

type stubUnreadService struct {
	summary dto.UnreadSummaryResponse
	err     error
}

func (s *stubUnreadService) ChatUnread(_ context.Context, _, chatID string) (dto.ChatUnreadResponse, error) {
	return dto.ChatUnreadResponse{ChatID: chatID, Unread: 3}, s.err
}

func (s *stubUnreadService) Summary(context.Context, string) (dto.UnreadSummaryResponse, error) {
	return s.summary, s.err
}

func (s *stubUnreadService) Invalidate(context.Context, ...string) {}

type stubNotificationService struct {
	list      dto.NotificationList
	err       error
	lastQuery dto.NotificationListQuery
	lastMark  dto.NotificationsMarkRequest
	lastDel   dto.NotificationsDeleteRequest
}

func (s *stubNotificationService) FanOutMessage(context.Context, repository.CreatedMessage, models.User, string) {
}

func (s *stubNotificationService) Deliver(...models.Notification) {}

func (s *stubNotificationService) List(_ context.Context, _ string, query dto.NotificationListQuery) (dto.NotificationList, error) {
	s.lastQuery = query
	return s.list, s.err
}

func (s *stubNotificationService) MarkRead(_ context.Context, _, id string) (dto.NotificationResponse, error) {
	return dto.NotificationResponse{ID: id, IsRead: true}, s.err
}

func (s *stubNotificationService) MarkMany(_ context.Context, _ string, req dto.NotificationsMarkRequest) (dto.BulkResultResponse, error) {
	s.lastMark = req
	return dto.BulkResultResponse{Affected: int64(len(req.IDs))}, s.err
}

func (s *stubNotificationService) Delete(_ context.Context, _ string, req dto.NotificationsDeleteRequest) (dto.BulkResultResponse, error) {
	s.lastDel = req
	return dto.BulkResultResponse{Affected: 2}, s.err
}

func (s *stubNotificationService) Wait() {}

type stubFriendService struct {
	err      error
	accepted string
	rejected string
}

func (s *stubFriendService) SendRequest(_ context.Context, actorID string, req dto.FriendRequestCreateRequest) (dto.FriendRequestResponse, error) {
	return dto.FriendRequestResponse{ID: "fr-1", SenderID: actorID, ReceiverID: req.ReceiverID, Status: models.FriendRequestPending}, s.err
}

func (s *stubFriendService) Accept(_ context.Context, _, requestID string) (dto.FriendRequestResolution, error) {
	s.accepted = requestID
	return dto.FriendRequestResolution{Request: dto.FriendRequestResponse{ID: requestID, Status: models.FriendRequestAccepted}}, s.err
}

func (s *stubFriendService) Reject(_ context.Context, _, requestID string) (dto.FriendRequestResolution, error) {
	s.rejected = requestID
	return dto.FriendRequestResolution{Request: dto.FriendRequestResponse{ID: requestID, Status: models.FriendRequestRejected}}, s.err
}

type stubPresenceService struct {
	err     error
	lastIDs []string
	status  string
}

func (s *stubPresenceService) Get(_ context.Context, userIDs []string) ([]dto.PresenceResponse, error) {
	s.lastIDs = userIDs
	out := make([]dto.PresenceResponse, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, dto.PresenceResponse{UserID: id, Status: models.UserStatusOffline})
	}
	return out, s.err
}

func (s *stubPresenceService) UpdateStatus(_ context.Context, actorID string, req dto.PresenceStatusRequest) (dto.PresenceResponse, error) {
	s.status = req.Status
	return dto.PresenceResponse{UserID: actorID, Status: models.UserStatus(req.Status), Online: true}, s.err
}
