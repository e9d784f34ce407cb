package service

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
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

// ChatService manages chats and their memberships.
type ChatService interface {
	CreateOrReuse(ctx context.Context, actorID string, req dto.ChatCreateRequest) (dto.ChatResponse, bool, error)
	Get(ctx context.Context, actorID, chatID string) (dto.ChatResponse, error)
	List(ctx context.Context, actorID string) ([]dto.ChatResponse, error)
	Leave(ctx context.Context, actorID, chatID string) (dto.ChatLeaveResponse, error)
	AddMembers(ctx context.Context, actorID, chatID string, req dto.ChatMembersAddRequest) (dto.ChatResponse, error)
	UpdateMemberRole(ctx context.Context, actorID, chatID, userID string, req dto.ChatMemberRoleRequest) (dto.ChatResponse, error)
	RemoveMember(ctx context.Context, actorID, chatID, userID string) (dto.ChatResponse, error)
	Authorize(ctx context.Context, actorID, chatID string) error
}

type chatService struct {
	chats         repository.ChatRepository
	messages      repository.MessageRepository
	users         repository.UserRepository
	content       contentCodec
	unread        UnreadService
	notifications NotificationService
	publisher     Publisher
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewChatService constructs the chat service.
func NewChatService(
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	codec MessageCodec,
	unread UnreadService,
	notifications NotificationService,
	publisher Publisher,
	validate *validator.Validate,
	logger zerolog.Logger,
) ChatService {
	logger = logger.With().Str("component", "chat_service").Logger()
	return &chatService{
		chats:         chats,
		messages:      messages,
		users:         users,
		content:       contentCodec{codec: codec, logger: logger},
		unread:        unread,
		notifications: notifications,
		publisher:     publisherOrNoop(publisher),
		validator:     validate,
		sanitizer:     bluemonday.StrictPolicy(),
		logger:        logger,
		tracer:        otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/chat"),
	}
}

// CreateOrReuse returns the existing private chat for a pair when there is one.
// The boolean reports whether a chat was created.
func (s *chatService) CreateOrReuse(ctx context.Context, actorID string, req dto.ChatCreateRequest) (dto.ChatResponse, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatResponse{}, false, err
	}

	ctx, span := s.tracer.Start(ctx, "chats.create", trace.WithAttributes(
		attribute.String("chat.type", req.Type),
		attribute.String("user.id", actorID),
	))
	defer span.End()

	others := make([]string, 0, len(req.MemberIDs))
	for _, id := range req.MemberIDs {
		if id = strings.TrimSpace(id); id != "" && id != actorID {
			others = append(others, id)
		}
	}
	others = uniqueStrings(others)

	var (
		chat models.Chat
		err  error
	)
	created := true
	if models.ChatType(req.Type) == models.ChatTypePrivate {
		chat, created, err = s.createPrivate(ctx, actorID, others)
	} else {
		chat, err = s.createGroup(ctx, actorID, req.Name, others)
	}
	if err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, false, err
	}

	response, err := s.view(ctx, actorID, chat)
	if err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, false, err
	}
	return response, created, nil
}

func (s *chatService) createPrivate(ctx context.Context, actorID string, others []string) (models.Chat, bool, error) {
	if len(others) != 1 {
		return models.Chat{}, false, apperror.Invalid("member_ids", "a private chat needs exactly one other member")
	}

	pairKey := models.PrivatePairKey(actorID, others[0])
	existing, err := s.chats.FindPrivate(ctx, pairKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return models.Chat{}, false, err
	}

	if err := s.requireUsers(ctx, append([]string{actorID}, others...)); err != nil {
		return models.Chat{}, false, err
	}

	chat := models.Chat{Type: models.ChatTypePrivate, PairKey: &pairKey, CreatedBy: actorID}
	members := []models.ChatMember{
		{UserID: actorID, Role: models.MemberRoleOwner},
		{UserID: others[0], Role: models.MemberRoleMember},
	}
	if err := s.chats.Create(ctx, &chat, members, nil); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return models.Chat{}, false, err
		}
		// Lost the race for this pair; the winner's chat is the answer.
		existing, findErr := s.chats.FindPrivate(ctx, pairKey)
		if findErr != nil {
			return models.Chat{}, false, findErr
		}
		return existing, false, nil
	}

	chat, err = s.chats.FindByID(ctx, chat.ID)
	return chat, true, err
}

func (s *chatService) createGroup(ctx context.Context, actorID, name string, others []string) (models.Chat, error) {
	name = s.cleanName(name)
	if name == "" {
		return models.Chat{}, apperror.Invalid("name", "is required for group chats")
	}

	if err := s.requireUsers(ctx, others); err != nil {
		return models.Chat{}, err
	}
	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return models.Chat{}, apperror.Invalid("member_ids", "references unknown users")
		}
		return models.Chat{}, err
	}

	// Invites reference the chat, so its id is assigned up front.
	chat := models.Chat{ID: uuid.NewString(), Name: name, Type: models.ChatTypeGroup, CreatedBy: actorID}
	members := []models.ChatMember{{UserID: actorID, Role: models.MemberRoleOwner}}
	for _, id := range others {
		members = append(members, models.ChatMember{UserID: id, Role: models.MemberRoleMember})
	}

	invites, err := s.groupInvites(chat, actor, others)
	if err != nil {
		return models.Chat{}, err
	}

	if err := s.chats.Create(ctx, &chat, members, invites); err != nil {
		return models.Chat{}, err
	}
	s.notifications.Deliver(invites...)

	return s.chats.FindByID(ctx, chat.ID)
}

func (s *chatService) groupInvites(chat models.Chat, inviter models.User, receivers []string) ([]models.Notification, error) {
	data, err := dto.EncodeNotificationData(dto.GroupInviteNotificationData{
		ChatID:      chat.ID,
		ChatName:    chat.Name,
		InviterID:   inviter.ID,
		InviterName: inviter.Name,
	})
	if err != nil {
		return nil, err
	}

	invites := make([]models.Notification, 0, len(receivers))
	for _, receiverID := range receivers {
		invites = append(invites, models.Notification{
			Type:       models.NotificationTypeGroupInvite,
			Title:      "Group invitation",
			Message:    inviter.Name + " added you to " + chat.Name,
			SenderID:   inviter.ID,
			ReceiverID: receiverID,
			Data:       data,
		})
	}
	return invites, nil
}

func (s *chatService) requireUsers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(users) != len(uniqueStrings(ids)) {
		return apperror.Invalid("member_ids", "references unknown users")
	}
	return nil
}

func (s *chatService) cleanName(name string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(name)))
}

func (s *chatService) Get(ctx context.Context, actorID, chatID string) (dto.ChatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "chats.get", trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	if err := s.Authorize(ctx, actorID, chatID); err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}

	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}
	return s.view(ctx, actorID, chat)
}

// List returns the actor's chats, most recently active first.
func (s *chatService) List(ctx context.Context, actorID string) ([]dto.ChatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "chats.list", trace.WithAttributes(attribute.String("user.id", actorID)))
	defer span.End()

	chats, err := s.chats.ListForUser(ctx, actorID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ids := make([]string, 0, len(chats))
	for _, chat := range chats {
		ids = append(ids, chat.ID)
	}

	latest, err := s.messages.LatestByChats(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	counts, err := s.messages.UnreadByUser(ctx, actorID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	unread := make(map[string]int64, len(counts))
	for _, row := range counts {
		unread[row.ChatID] = row.Unread
	}

	responses := make([]dto.ChatResponse, 0, len(chats))
	for _, chat := range chats {
		response := dto.NewChatResponse(chat)
		if message, ok := latest[chat.ID]; ok {
			last := s.content.decode(message)
			response.LastMessage = &last
		}
		response.UnreadCount = unread[chat.ID]
		responses = append(responses, response)
	}
	return responses, nil
}

func (s *chatService) view(ctx context.Context, actorID string, chat models.Chat) (dto.ChatResponse, error) {
	response := dto.NewChatResponse(chat)

	latest, err := s.messages.LatestByChats(ctx, []string{chat.ID})
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if message, ok := latest[chat.ID]; ok {
		last := s.content.decode(message)
		response.LastMessage = &last
	}

	unread, err := s.messages.UnreadCount(ctx, chat.ID, actorID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	response.UnreadCount = unread
	return response, nil
}

func (s *chatService) Leave(ctx context.Context, actorID, chatID string) (dto.ChatLeaveResponse, error) {
	ctx, span := s.tracer.Start(ctx, "chats.leave", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("user.id", actorID),
	))
	defer span.End()

	result, err := s.chats.Leave(ctx, chatID, actorID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatLeaveResponse{}, err
	}
	span.SetAttributes(attribute.Bool("chat.deleted", result.ChatDeleted))

	if result.NewOwnerID != "" {
		s.logger.Info().Str("chat_id", chatID).Str("new_owner_id", result.NewOwnerID).Msg("chat ownership transferred")
	}

	s.unread.Invalidate(ctx, actorID)
	s.publisher.EvictFromChat(chatID, actorID)
	if result.ChatDeleted {
		s.publisher.PushToUsers([]string{actorID}, realtime.ChatDeleted(chatID))
	} else {
		// The leaver's other sessions drop the chat on the same event.
		recipients := append(append([]string(nil), result.RemainingMemberIDs...), actorID)
		s.publisher.PushToUsers(recipients, realtime.MemberLeft(chatID, actorID, result.NewOwnerID))
	}

	return dto.ChatLeaveResponse{
		ChatID:      chatID,
		ChatDeleted: result.ChatDeleted,
		NewOwnerID:  result.NewOwnerID,
	}, nil
}

func (s *chatService) AddMembers(ctx context.Context, actorID, chatID string, req dto.ChatMembersAddRequest) (dto.ChatResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "chats.add_members", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.Int("chat.invitees", len(req.UserIDs)),
	))
	defer span.End()

	if err := s.Authorize(ctx, actorID, chatID); err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}

	invitees := without(uniqueStrings(req.UserIDs), actorID)
	if err := s.requireUsers(ctx, invitees); err != nil {
		return dto.ChatResponse{}, err
	}

	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}
	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}

	members := make([]models.ChatMember, 0, len(invitees))
	for _, id := range invitees {
		members = append(members, models.ChatMember{UserID: id, Role: models.MemberRoleMember})
	}
	invites, err := s.groupInvites(chat, actor, invitees)
	if err != nil {
		return dto.ChatResponse{}, err
	}

	added, err := s.chats.AddMembers(ctx, chatID, actorID, members, invites)
	if err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}
	s.notifications.Deliver(added.Invites...)

	return s.Get(ctx, actorID, chatID)
}

func (s *chatService) UpdateMemberRole(ctx context.Context, actorID, chatID, userID string, req dto.ChatMemberRoleRequest) (dto.ChatResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "chats.update_role", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("chat.role", req.Role),
	))
	defer span.End()

	if _, err := s.chats.UpdateRole(ctx, chatID, actorID, userID, models.MemberRole(req.Role)); err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}
	return s.Get(ctx, actorID, chatID)
}

func (s *chatService) RemoveMember(ctx context.Context, actorID, chatID, userID string) (dto.ChatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "chats.remove_member", trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	if err := s.chats.RemoveMember(ctx, chatID, actorID, userID); err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}

	s.unread.Invalidate(ctx, userID)
	s.publisher.EvictFromChat(chatID, userID)
	s.publisher.PushToUsers([]string{userID}, realtime.ChatDeleted(chatID))
	if remaining, err := s.chats.ListMemberIDs(ctx, chatID); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to load members for removal push")
	} else {
		s.publisher.PushToUsers(remaining, realtime.MemberLeft(chatID, userID, ""))
	}

	return s.Get(ctx, actorID, chatID)
}

// Authorize succeeds only for current members. Missing chats and foreign chats
// are both reported as not found.
func (s *chatService) Authorize(ctx context.Context, actorID, chatID string) error {
	if _, err := s.chats.FindMember(ctx, chatID, actorID); err != nil {
		if errors.Is(err, apperror.ErrNotMember) {
			return apperror.ErrNotFound
		}
		return err
	}
	return nil
}
