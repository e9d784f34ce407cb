package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/repository"
	"github.com/noah-isme/gema-chat-api/internal/testutil"
)

func TestUnreadSummaryServesCacheUntilInvalidated(t *testing.T) {
	h := newHarness(t, nil)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")
	ctx := context.Background()

	chat, _ := h.private(t, alice.ID, bob.ID)
	insert := func() {
		_, err := h.messageRepo.Create(ctx, repository.CreateMessageParams{
			ChatID: chat.ID, SenderID: alice.ID, Content: "ping", Type: models.MessageTypeText,
		})
		require.NoError(t, err)
	}

	insert()
	summary, err := h.unread.Summary(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Total)
	require.True(t, h.redis.Exists(unreadCacheKey(bob.ID)))
	ttl := h.redis.TTL(unreadCacheKey(bob.ID))
	require.True(t, ttl > 0 && ttl <= time.Minute)

	// Written behind the service's back, so the cached total is stale.
	insert()
	summary, err = h.unread.Summary(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Total)

	h.unread.Invalidate(ctx, bob.ID, bob.ID)
	require.False(t, h.redis.Exists(unreadCacheKey(bob.ID)))

	summary, err = h.unread.Summary(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.Total)
	require.Len(t, summary.Chats, 1)
	require.Equal(t, chat.ID, summary.Chats[0].ChatID)

	perChat, err := h.unread.ChatUnread(ctx, bob.ID, chat.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), perChat.Unread)

	sender, err := h.unread.ChatUnread(ctx, alice.ID, chat.ID)
	require.NoError(t, err)
	require.Zero(t, sender.Unread, "own messages are never unread")
}

func TestUnreadWithoutCache(t *testing.T) {
	db := testutil.NewDB(t)
	messages := repository.NewMessageRepository(db)
	unread := NewUnreadService(messages, nil, time.Minute, zerolog.Nop())
	outsider := testutil.CreateUser(t, db, "outsider")

	summary, err := unread.Summary(context.Background(), outsider.ID)
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Empty(t, summary.Chats)

	unread.Invalidate(context.Background(), outsider.ID)

	_, err = unread.ChatUnread(context.Background(), outsider.ID, "missing-chat")
	require.True(t, apperror.IsHidden(err))
}
