package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

// UnreadService answers unread counters. Per-user summaries are cached in Redis
// and invalidated whenever a message or watermark changes for that user.
type UnreadService interface {
	ChatUnread(ctx context.Context, userID, chatID string) (dto.ChatUnreadResponse, error)
	Summary(ctx context.Context, userID string) (dto.UnreadSummaryResponse, error)
	Invalidate(ctx context.Context, userIDs ...string)
}

type unreadService struct {
	messages repository.MessageRepository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewUnreadService builds the unread aggregator. cache may be nil.
func NewUnreadService(messages repository.MessageRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) UnreadService {
	return &unreadService{
		messages: messages,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "unread_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/unread"),
	}
}

func unreadCacheKey(userID string) string {
	return fmt.Sprintf("unread:user:%s", userID)
}

func (s *unreadService) ChatUnread(ctx context.Context, userID, chatID string) (dto.ChatUnreadResponse, error) {
	ctx, span := s.tracer.Start(ctx, "unread.chat", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	count, err := s.messages.UnreadCount(ctx, chatID, userID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatUnreadResponse{}, err
	}
	return dto.ChatUnreadResponse{ChatID: chatID, Unread: count}, nil
}

func (s *unreadService) Summary(ctx context.Context, userID string) (dto.UnreadSummaryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "unread.summary", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	cacheKey := unreadCacheKey(userID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.UnreadSummaryResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Str("user_id", userID).Msg("unread cache hit")
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read unread cache")
		}
	}

	rows, err := s.messages.UnreadByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return dto.UnreadSummaryResponse{}, err
	}

	response := dto.UnreadSummaryResponse{Chats: make([]dto.ChatUnreadResponse, 0, len(rows))}
	for _, row := range rows {
		response.Total += row.Unread
		response.Chats = append(response.Chats, dto.ChatUnreadResponse{ChatID: row.ChatID, Unread: row.Unread})
	}

	if s.cache != nil {
		payload, err := json.Marshal(response)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store unread cache")
			}
		}
	}

	return response, nil
}

// Invalidate drops cached summaries. Failures only cost freshness until the TTL
// expires, so they are logged.
func (s *unreadService) Invalidate(ctx context.Context, userIDs ...string) {
	if s.cache == nil || len(userIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(userIDs))
	for _, id := range uniqueStrings(userIDs) {
		keys = append(keys, unreadCacheKey(id))
	}
	if err := s.cache.Del(context.WithoutCancel(ctx), keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Int("keys", len(keys)).Msg("failed to invalidate unread cache")
	}
}
