package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

const maxPresenceLookup = 100

// StatusSetter applies a declared status to a connected user. *realtime.Gateway
// satisfies it.
type StatusSetter interface {
	SetStatus(ctx context.Context, userID string, status models.UserStatus) error
}

// PresenceService reads live presence with a persisted fallback and applies
// status changes requested over HTTP.
type PresenceService interface {
	Get(ctx context.Context, userIDs []string) ([]dto.PresenceResponse, error)
	UpdateStatus(ctx context.Context, actorID string, req dto.PresenceStatusRequest) (dto.PresenceResponse, error)
}

type presenceService struct {
	registry  *realtime.Registry
	setter    StatusSetter
	users     repository.UserRepository
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewPresenceService constructs the presence service.
func NewPresenceService(registry *realtime.Registry, setter StatusSetter, users repository.UserRepository, validate *validator.Validate, logger zerolog.Logger) PresenceService {
	return &presenceService{
		registry:  registry,
		setter:    setter,
		users:     users,
		validator: validate,
		logger:    logger.With().Str("component", "presence_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/presence"),
	}
}

// Get answers from the node-local registry for users connected here and from the
// persisted status, which other nodes keep current, otherwise. Unknown ids are
// omitted.
func (s *presenceService) Get(ctx context.Context, userIDs []string) ([]dto.PresenceResponse, error) {
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return nil, apperror.Invalid("user_ids", "is required")
	}
	if len(ids) > maxPresenceLookup {
		return nil, apperror.Invalid("user_ids", "must list at most 100 users")
	}

	ctx, span := s.tracer.Start(ctx, "presence.get", trace.WithAttributes(attribute.Int("presence.users", len(ids))))
	defer span.End()

	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	byID := make(map[string]models.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}

	responses := make([]dto.PresenceResponse, 0, len(ids))
	for _, id := range ids {
		user, ok := byID[id]
		if !ok {
			continue
		}
		response := dto.PresenceResponse{UserID: id, Status: user.Status, LastSeen: user.LastSeen}
		if status, connected := s.registry.Status(id); connected {
			response.Status = status
		}
		if !response.Status.Valid() {
			response.Status = models.UserStatusOffline
		}
		response.Online = response.Status != models.UserStatusOffline
		responses = append(responses, response)
	}
	return responses, nil
}

func (s *presenceService) UpdateStatus(ctx context.Context, actorID string, req dto.PresenceStatusRequest) (dto.PresenceResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.PresenceResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "presence.update_status", trace.WithAttributes(
		attribute.String("user.id", actorID),
		attribute.String("presence.status", req.Status),
	))
	defer span.End()

	if err := s.setter.SetStatus(ctx, actorID, models.UserStatus(req.Status)); err != nil {
		span.RecordError(err)
		return dto.PresenceResponse{}, err
	}

	status, online := s.registry.Status(actorID)
	return dto.PresenceResponse{UserID: actorID, Status: status, Online: online}, nil
}
