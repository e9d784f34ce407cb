package service

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

// FriendService runs the friend request workflow. Each transition persists its
// notification in the same transaction and pushes it after commit.
type FriendService interface {
	SendRequest(ctx context.Context, actorID string, req dto.FriendRequestCreateRequest) (dto.FriendRequestResponse, error)
	Accept(ctx context.Context, actorID, requestID string) (dto.FriendRequestResolution, error)
	Reject(ctx context.Context, actorID, requestID string) (dto.FriendRequestResolution, error)
}

type friendService struct {
	friends       repository.FriendRepository
	users         repository.UserRepository
	notifications NotificationService
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewFriendService constructs the friend request workflow.
func NewFriendService(friends repository.FriendRepository, users repository.UserRepository, notifications NotificationService, validate *validator.Validate, logger zerolog.Logger) FriendService {
	return &friendService{
		friends:       friends,
		users:         users,
		notifications: notifications,
		validator:     validate,
		sanitizer:     bluemonday.StrictPolicy(),
		logger:        logger.With().Str("component", "friend_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/friend"),
	}
}

func (s *friendService) SendRequest(ctx context.Context, actorID string, req dto.FriendRequestCreateRequest) (dto.FriendRequestResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.FriendRequestResponse{}, err
	}

	receiverID := strings.TrimSpace(req.ReceiverID)
	if receiverID == actorID {
		return dto.FriendRequestResponse{}, apperror.Invalid("receiver_id", "cannot send a friend request to yourself")
	}

	ctx, span := s.tracer.Start(ctx, "friends.send_request", trace.WithAttributes(
		attribute.String("user.id", actorID),
		attribute.String("friend.receiver_id", receiverID),
	))
	defer span.End()

	if _, err := s.users.FindByID(ctx, receiverID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return dto.FriendRequestResponse{}, apperror.Invalid("receiver_id", "references an unknown user")
		}
		span.RecordError(err)
		return dto.FriendRequestResponse{}, err
	}
	sender, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		span.RecordError(err)
		return dto.FriendRequestResponse{}, err
	}

	note := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(req.Message)))
	request := models.FriendRequest{SenderID: actorID, ReceiverID: receiverID, Message: note}

	notification, err := s.friends.CreateRequest(ctx, &request, func(created models.FriendRequest) models.Notification {
		return friendNotification(created, models.NotificationTypeFriendRequest, created.ReceiverID, sender,
			"New friend request", sender.Name+" sent you a friend request")
	})
	if err != nil {
		span.RecordError(err)
		return dto.FriendRequestResponse{}, err
	}

	s.notifications.Deliver(notification)
	return dto.NewFriendRequestResponse(request), nil
}

func (s *friendService) Accept(ctx context.Context, actorID, requestID string) (dto.FriendRequestResolution, error) {
	return s.resolve(ctx, actorID, requestID, true)
}

func (s *friendService) Reject(ctx context.Context, actorID, requestID string) (dto.FriendRequestResolution, error) {
	return s.resolve(ctx, actorID, requestID, false)
}

func (s *friendService) resolve(ctx context.Context, actorID, requestID string, accept bool) (dto.FriendRequestResolution, error) {
	ctx, span := s.tracer.Start(ctx, "friends.resolve", trace.WithAttributes(
		attribute.String("friend.request_id", requestID),
		attribute.Bool("friend.accept", accept),
	))
	defer span.End()

	receiver, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		span.RecordError(err)
		return dto.FriendRequestResolution{}, err
	}

	var resolution repository.FriendResolution
	if accept {
		resolution, err = s.friends.Accept(ctx, requestID, actorID, func(request models.FriendRequest) models.Notification {
			return friendNotification(request, models.NotificationTypeFriendRequestAccepted, request.SenderID, receiver,
				"Friend request accepted", receiver.Name+" accepted your friend request")
		})
	} else {
		resolution, err = s.friends.Reject(ctx, requestID, actorID, func(request models.FriendRequest) models.Notification {
			return friendNotification(request, models.NotificationTypeFriendRequestRejected, request.SenderID, receiver,
				"Friend request declined", receiver.Name+" declined your friend request")
		})
	}
	if err != nil {
		span.RecordError(err)
		return dto.FriendRequestResolution{}, err
	}

	s.notifications.Deliver(resolution.Notification)
	return dto.FriendRequestResolution{
		Request:    dto.NewFriendRequestResponse(resolution.Request),
		Friendship: dto.NewFriendshipResponse(resolution.Friendship),
	}, nil
}

// friendNotification addresses receiverID on behalf of actor. Encoding a fixed
// struct cannot fail, so an error leaves the payload empty.
func friendNotification(request models.FriendRequest, kind models.NotificationType, receiverID string, actor models.User, title, message string) models.Notification {
	data, _ := dto.EncodeNotificationData(dto.FriendRequestNotificationData{
		Kind:      kind,
		RequestID: request.ID,
		UserID:    actor.ID,
		UserName:  actor.Name,
		Note:      request.Message,
	})
	return models.Notification{
		Type:       kind,
		Title:      title,
		Message:    message,
		SenderID:   actor.ID,
		ReceiverID: receiverID,
		Data:       data,
	}
}
