package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/observability"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

const defaultHistoryLimit = 50

// MessageCodec seals message content at rest. *crypto.Codec satisfies it.
type MessageCodec interface {
	Enabled() bool
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

// MessageService is the durable message path: send, history, delete and read
// receipts, each followed by the matching realtime push.
type MessageService interface {
	Send(ctx context.Context, actorID string, req dto.MessageSendRequest) (dto.MessageResponse, error)
	List(ctx context.Context, actorID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, dto.MessagePageMeta, error)
	Delete(ctx context.Context, actorID, messageID string) error
	MarkRead(ctx context.Context, actorID, chatID string) (dto.ReadReceiptResponse, error)
	Relay(ctx context.Context, actorID, messageID string) error
}

type messageService struct {
	messages      repository.MessageRepository
	chats         repository.ChatRepository
	users         repository.UserRepository
	content       contentCodec
	unread        UnreadService
	notifications NotificationService
	publisher     Publisher
	validator     *validator.Validate
	timeout       time.Duration
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewMessageService wires the message path. timeout bounds every storage round trip.
func NewMessageService(
	messages repository.MessageRepository,
	chats repository.ChatRepository,
	users repository.UserRepository,
	codec MessageCodec,
	unread UnreadService,
	notifications NotificationService,
	publisher Publisher,
	validate *validator.Validate,
	timeout time.Duration,
	logger zerolog.Logger,
) MessageService {
	logger = logger.With().Str("component", "message_service").Logger()
	if codec == nil || !codec.Enabled() {
		logger.Warn().Msg("encryption key not configured; messages will be stored as plaintext")
	}

	return &messageService{
		messages:      messages,
		chats:         chats,
		users:         users,
		content:       contentCodec{codec: codec, logger: logger},
		unread:        unread,
		notifications: notifications,
		publisher:     publisherOrNoop(publisher),
		validator:     validate,
		timeout:       timeout,
		logger:        logger,
		tracer:        otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/message"),
	}
}

func (s *messageService) Send(ctx context.Context, actorID string, req dto.MessageSendRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	kind := models.MessageType(req.Type)
	if kind == "" {
		kind = models.MessageTypeText
	}

	plaintext, err := s.cleanContent(kind, req.Content)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	var replyTo *string
	if req.ReplyToID != nil && strings.TrimSpace(*req.ReplyToID) != "" {
		id := strings.TrimSpace(*req.ReplyToID)
		replyTo = &id
	}

	ctx, span := s.tracer.Start(ctx, "messages.create", trace.WithAttributes(
		attribute.String("chat.id", req.ChatID),
		attribute.String("message.type", string(kind)),
	))
	defer span.End()

	stored, encrypted := s.content.seal(plaintext)

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	created, err := s.messages.Create(storeCtx, repository.CreateMessageParams{
		ChatID:    req.ChatID,
		SenderID:  actorID,
		ReplyToID: replyTo,
		Content:   stored,
		Encrypted: encrypted,
		Type:      kind,
	})
	if err != nil {
		err = timeoutError(storeCtx, err)
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}
	span.SetAttributes(attribute.Bool("message.encrypted", encrypted), attribute.Int64("message.seq", created.Message.Seq))

	sender, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", actorID).Msg("failed to load message sender")
		sender = models.User{ID: actorID}
	}
	created.Message.Sender = &sender

	observability.MessagesCreated().WithLabelValues(string(kind), boolLabel(encrypted)).Inc()

	memberIDs := make([]string, 0, len(created.Members))
	for _, member := range created.Members {
		memberIDs = append(memberIDs, member.UserID)
	}

	response := dto.NewMessageResponse(created.Message, plaintext, false)
	s.unread.Invalidate(ctx, memberIDs...)
	s.publisher.PushToUsers(memberIDs, realtime.NewMessage(response))
	s.notifications.FanOutMessage(ctx, created, sender, plaintext)

	return response, nil
}

// cleanContent keeps text messages exactly as sent; escaping is left to whoever
// renders them. Media messages must carry a URL.
func (s *messageService) cleanContent(kind models.MessageType, content string) (string, error) {
	if kind != models.MessageTypeText {
		content = strings.TrimSpace(content)
		if err := s.validator.Var(content, "required,url"); err != nil {
			return "", apperror.Invalid("content", "must be a URL for "+strings.ToLower(string(kind))+" messages")
		}
		return content, nil
	}

	if strings.TrimSpace(content) == "" {
		return "", apperror.Invalid("content", "must not be empty")
	}
	return content, nil
}

func (s *messageService) List(ctx context.Context, actorID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, dto.MessagePageMeta, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, dto.MessagePageMeta{}, err
	}

	ctx, span := s.tracer.Start(ctx, "messages.list", trace.WithAttributes(
		attribute.String("chat.id", query.ChatID),
		attribute.String("user.id", actorID),
	))
	defer span.End()

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.requireMember(storeCtx, query.ChatID, actorID); err != nil {
		err = timeoutError(storeCtx, err)
		span.RecordError(err)
		return nil, dto.MessagePageMeta{}, err
	}

	var beforeSeq int64
	if query.Before != "" {
		cursor, err := s.messages.FindByID(storeCtx, query.Before)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			err = timeoutError(storeCtx, err)
			span.RecordError(err)
			return nil, dto.MessagePageMeta{}, err
		}
		if err != nil || cursor.ChatID != query.ChatID {
			return nil, dto.MessagePageMeta{}, apperror.Invalid("before", "must reference a message in this chat")
		}
		beforeSeq = cursor.Seq
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	messages, err := s.messages.ListByChat(storeCtx, query.ChatID, beforeSeq, limit)
	if err != nil {
		err = timeoutError(storeCtx, err)
		span.RecordError(err)
		return nil, dto.MessagePageMeta{}, err
	}

	items := make([]dto.MessageResponse, 0, len(messages))
	for _, message := range messages {
		items = append(items, s.content.decode(message))
	}

	meta := dto.MessagePageMeta{Count: len(items)}
	if len(items) == limit {
		meta.NextBefore = items[0].ID
	}
	return items, meta, nil
}

// requireMember distinguishes a missing chat from a chat the actor cannot see only
// internally; both are hidden from the caller.
func (s *messageService) requireMember(ctx context.Context, chatID, userID string) error {
	_, err := s.chats.FindMember(ctx, chatID, userID)
	if err == nil || !errors.Is(err, apperror.ErrNotMember) {
		return err
	}

	exists, existsErr := s.chats.Exists(ctx, chatID)
	if existsErr != nil {
		return existsErr
	}
	if !exists {
		return apperror.ErrNotFound
	}
	return err
}

func (s *messageService) Delete(ctx context.Context, actorID, messageID string) error {
	ctx, span := s.tracer.Start(ctx, "messages.delete", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("user.id", actorID),
	))
	defer span.End()

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	deleted, err := s.messages.Delete(storeCtx, messageID, actorID)
	if err != nil {
		err = timeoutError(storeCtx, err)
		span.RecordError(err)
		return err
	}

	s.unread.Invalidate(ctx, deleted.MemberIDs...)
	s.publisher.PushToUsers(deleted.MemberIDs, realtime.MessageDeleted(deleted.Message.ChatID, deleted.Message.ID))
	return nil
}

func (s *messageService) MarkRead(ctx context.Context, actorID, chatID string) (dto.ReadReceiptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messages.mark_read", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("user.id", actorID),
	))
	defer span.End()

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	receipt, err := s.messages.MarkRead(storeCtx, chatID, actorID)
	if err != nil {
		err = timeoutError(storeCtx, err)
		span.RecordError(err)
		return dto.ReadReceiptResponse{}, err
	}

	response := dto.ReadReceiptResponse{
		ChatID:      chatID,
		ReaderID:    actorID,
		LastRead:    receipt.Member.LastRead,
		LastReadSeq: receipt.Member.LastReadSeq,
	}

	s.unread.Invalidate(ctx, actorID)
	s.publisher.PushToUsers(receipt.MemberIDs, realtime.MessagesRead(response))
	return response, nil
}

// Relay re-pushes an already persisted message to the other members' user rooms.
// Only the sender may relay, so the realtime path never carries unsaved content.
func (s *messageService) Relay(ctx context.Context, actorID, messageID string) error {
	ctx, span := s.tracer.Start(ctx, "messages.relay", trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	message, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if message.SenderID != actorID {
		return apperror.ErrNotFound
	}

	memberIDs, err := s.chats.ListMemberIDs(ctx, message.ChatID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	recipients := without(memberIDs, actorID)
	if len(recipients) == len(memberIDs) {
		return apperror.ErrNotMember
	}

	s.publisher.PushToUsers(recipients, realtime.NewMessage(s.content.decode(message)))
	return nil
}

// contentCodec applies the at-rest encryption policy. Sealing falls back to
// plaintext and says so; opening failures mark one message undecryptable.
type contentCodec struct {
	codec  MessageCodec
	logger zerolog.Logger
}

func (c contentCodec) seal(plaintext string) (string, bool) {
	if c.codec == nil || !c.codec.Enabled() {
		observability.EncryptionFallbacks().Inc()
		return plaintext, false
	}

	sealed, err := c.codec.Seal(plaintext)
	if err != nil {
		observability.EncryptionFallbacks().Inc()
		c.logger.Warn().Err(err).Msg("encryption failed; storing message as plaintext")
		return plaintext, false
	}
	return sealed, true
}

func (c contentCodec) decode(message models.Message) dto.MessageResponse {
	if !message.Encrypted {
		return dto.NewMessageResponse(message, message.Content, false)
	}

	if c.codec == nil {
		observability.UndecryptableMessages().Inc()
		return dto.NewMessageResponse(message, "", true)
	}

	plaintext, err := c.codec.Open(message.Content)
	if err != nil {
		observability.UndecryptableMessages().Inc()
		c.logger.Warn().Err(err).Str("message_id", message.ID).Msg("failed to decrypt message")
		return dto.NewMessageResponse(message, "", true)
	}
	return dto.NewMessageResponse(message, plaintext, false)
}

func boolLabel(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

// RealtimeActions adapts the message and chat services to the gateway's client
// events.
type RealtimeActions struct {
	Messages MessageService
	Chats    ChatService
}

func (a RealtimeActions) MarkRead(ctx context.Context, userID, chatID string) error {
	_, err := a.Messages.MarkRead(ctx, userID, chatID)
	return err
}

func (a RealtimeActions) RelayMessage(ctx context.Context, userID, messageID string) error {
	return a.Messages.Relay(ctx, userID, messageID)
}

func (a RealtimeActions) AuthorizeChat(ctx context.Context, userID, chatID string) error {
	return a.Chats.Authorize(ctx, userID, chatID)
}
