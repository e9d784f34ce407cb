package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/observability"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

const previewRunes = 50

// NotificationService persists notifications, pushes them to connected receivers
// and serves the receiver's inbox.
type NotificationService interface {
	FanOutMessage(ctx context.Context, created repository.CreatedMessage, sender models.User, plaintext string)
	Deliver(notifications ...models.Notification)
	List(ctx context.Context, userID string, query dto.NotificationListQuery) (dto.NotificationList, error)
	MarkRead(ctx context.Context, userID, id string) (dto.NotificationResponse, error)
	MarkMany(ctx context.Context, userID string, req dto.NotificationsMarkRequest) (dto.BulkResultResponse, error)
	Delete(ctx context.Context, userID string, req dto.NotificationsDeleteRequest) (dto.BulkResultResponse, error)
	Wait()
}

type notificationService struct {
	repo        repository.NotificationRepository
	users       repository.UserRepository
	publisher   Publisher
	validator   *validator.Validate
	concurrency int
	timeout     time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	inflight    sync.WaitGroup
}

// NewNotificationService constructs a notification service. Message fan-out runs
// at most concurrency inserts at once, each batch bounded by timeout.
func NewNotificationService(repo repository.NotificationRepository, users repository.UserRepository, publisher Publisher, validate *validator.Validate, concurrency int, timeout time.Duration, logger zerolog.Logger) NotificationService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &notificationService{
		repo:        repo,
		users:       users,
		publisher:   publisherOrNoop(publisher),
		validator:   validate,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger.With().Str("component", "notification_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/notification"),
	}
}

// FanOutMessage creates MESSAGE notifications for every other member with
// notifications enabled. It returns immediately; per-recipient failures are
// logged and never reach the sender.
func (s *notificationService) FanOutMessage(ctx context.Context, created repository.CreatedMessage, sender models.User, plaintext string) {
	recipients := make([]string, 0, len(created.Members))
	for _, member := range created.Members {
		if member.UserID != sender.ID {
			recipients = append(recipients, member.UserID)
		}
	}
	if len(recipients) == 0 {
		return
	}

	data, err := dto.EncodeNotificationData(dto.MessageNotificationData{
		ChatID:     created.Chat.ID,
		ChatType:   created.Chat.Type,
		MessageID:  created.Message.ID,
		SenderName: sender.Name,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", created.Message.ID).Msg("failed to encode message notification")
		return
	}

	template := models.Notification{
		Type:     models.NotificationTypeMessage,
		Title:    messageTitle(created.Chat, sender),
		Message:  messagePreview(created.Message.Type, plaintext),
		SenderID: sender.ID,
		Data:     data,
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		fanCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		s.fanOut(fanCtx, created.Message.ID, template, recipients)
	}()
}

func (s *notificationService) fanOut(ctx context.Context, messageID string, template models.Notification, recipients []string) {
	ctx, span := s.tracer.Start(ctx, "notifications.fan_out", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.Int("notification.recipients", len(recipients)),
	))
	defer span.End()

	enabled, err := s.users.NotificationsEnabled(ctx, recipients)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("message_id", messageID).Msg("failed to load notification preferences")
		return
	}

	counter := observability.Notifications()
	kind := string(models.NotificationTypeMessage)

	var group errgroup.Group
	group.SetLimit(s.concurrency)
	for _, receiverID := range recipients {
		if !enabled[receiverID] {
			counter.WithLabelValues(kind, "skipped").Inc()
			continue
		}

		notification := template
		notification.ReceiverID = receiverID
		group.Go(func() error {
			if err := s.repo.Create(ctx, &notification); err != nil {
				counter.WithLabelValues(kind, "failed").Inc()
				s.logger.Warn().Err(err).
					Str("message_id", messageID).
					Str("receiver_id", notification.ReceiverID).
					Msg("failed to persist message notification")
				return nil
			}
			counter.WithLabelValues(kind, "created").Inc()
			s.push(notification)
			return nil
		})
	}
	_ = group.Wait()
}

// Deliver pushes notifications that were persisted inside another transaction.
func (s *notificationService) Deliver(notifications ...models.Notification) {
	for _, notification := range notifications {
		observability.Notifications().WithLabelValues(string(notification.Type), "created").Inc()
		s.push(notification)
	}
}

func (s *notificationService) push(notification models.Notification) {
	event := realtime.Notification(dto.NewNotificationResponse(notification))
	s.publisher.PushToUsers([]string{notification.ReceiverID}, event)
}

// Wait blocks until every background fan-out has finished.
func (s *notificationService) Wait() {
	s.inflight.Wait()
}

func (s *notificationService) List(ctx context.Context, userID string, query dto.NotificationListQuery) (dto.NotificationList, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.NotificationList{}, err
	}

	ctx, span := s.tracer.Start(ctx, "notifications.list", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	filter := repository.NotificationFilter{
		ReceiverID: userID,
		UnreadOnly: query.UnreadOnly,
		Limit:      query.Limit,
		Offset:     query.Offset,
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationList{}, err
	}

	stats, err := s.repo.UnreadStats(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationList{}, err
	}

	meta := dto.NotificationListMeta{
		Total:  total,
		Stats:  make(map[string]int64, len(stats)),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for kind, count := range stats {
		meta.Stats[string(kind)] = count
		meta.Unread += count
	}

	return dto.NotificationList{Items: dto.NewNotificationResponseSlice(items), Meta: meta}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID, id string) (dto.NotificationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("notification.id", id),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}
	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkMany(ctx context.Context, userID string, req dto.NotificationsMarkRequest) (dto.BulkResultResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.BulkResultResponse{}, err
	}
	if !req.All && len(req.IDs) == 0 {
		return dto.BulkResultResponse{}, apperror.Invalid("ids", "provide ids or set all")
	}

	ctx, span := s.tracer.Start(ctx, "notifications.mark_many", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Bool("notification.all", req.All),
	))
	defer span.End()

	var (
		affected int64
		err      error
	)
	if req.All {
		affected, err = s.repo.MarkAllRead(ctx, userID)
	} else {
		affected, err = s.repo.MarkManyRead(ctx, userID, uniqueStrings(req.IDs))
	}
	if err != nil {
		span.RecordError(err)
		return dto.BulkResultResponse{}, err
	}
	return dto.BulkResultResponse{Affected: affected}, nil
}

func (s *notificationService) Delete(ctx context.Context, userID string, req dto.NotificationsDeleteRequest) (dto.BulkResultResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.BulkResultResponse{}, err
	}
	if !req.AllRead && len(req.IDs) == 0 {
		return dto.BulkResultResponse{}, apperror.Invalid("ids", "provide ids or set all_read")
	}

	ctx, span := s.tracer.Start(ctx, "notifications.delete", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Bool("notification.all_read", req.AllRead),
	))
	defer span.End()

	var (
		affected int64
		err      error
	)
	if req.AllRead {
		affected, err = s.repo.DeleteRead(ctx, userID)
	} else {
		affected, err = s.repo.DeleteMany(ctx, userID, uniqueStrings(req.IDs))
	}
	if err != nil {
		span.RecordError(err)
		return dto.BulkResultResponse{}, err
	}
	return dto.BulkResultResponse{Affected: affected}, nil
}

func messageTitle(chat models.Chat, sender models.User) string {
	if chat.Type == models.ChatTypeGroup && strings.TrimSpace(chat.Name) != "" {
		return sender.Name + " in " + chat.Name
	}
	return "New message from " + sender.Name
}

func messagePreview(kind models.MessageType, plaintext string) string {
	switch kind {
	case models.MessageTypeImage:
		return "sent an image"
	case models.MessageTypeVideo:
		return "sent a video"
	case models.MessageTypeAudio:
		return "sent an audio clip"
	case models.MessageTypeVoice:
		return "sent a voice message"
	case models.MessageTypeFile:
		return "sent a file"
	}

	runes := []rune(plaintext)
	if len(runes) <= previewRunes {
		return plaintext
	}
	return string(runes[:previewRunes]) + "..."
}
