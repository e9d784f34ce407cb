package service

import (
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/crypto"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
	"github.com/noah-isme/gema-chat-api/internal/repository"
	"github.com/noah-isme/gema-chat-api/internal/testutil"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type recordedPush struct {
	userIDs []string
	event   realtime.Event
}

type recordingPublisher struct {
	mu        sync.Mutex
	pushes    []recordedPush
	evictions map[string][]string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{evictions: make(map[string][]string)}
}

func (p *recordingPublisher) PushToUsers(userIDs []string, event realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, recordedPush{userIDs: append([]string(nil), userIDs...), event: event})
}

func (p *recordingPublisher) EvictFromChat(chatID string, userIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictions[chatID] = append(p.evictions[chatID], userIDs...)
}

func (p *recordingPublisher) ofType(eventType realtime.EventType) []recordedPush {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []recordedPush
	for _, push := range p.pushes {
		if push.event.EventType() == eventType {
			out = append(out, push)
		}
	}
	return out
}

func (p *recordingPublisher) evicted(chatID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evictions[chatID]...)
}

type harness struct {
	db            *gorm.DB
	redis         *miniredis.Miniredis
	chatRepo      repository.ChatRepository
	messageRepo   repository.MessageRepository
	userRepo      repository.UserRepository
	notifRepo     repository.NotificationRepository
	friendRepo    repository.FriendRepository
	publisher     *recordingPublisher
	unread        UnreadService
	notifications NotificationService
	messages      MessageService
	chats         ChatService
	friends       FriendService
}

func newHarness(t *testing.T, codec MessageCodec) *harness {
	t.Helper()

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	cache := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	db := testutil.NewDB(t)
	validate := validator.New()
	logger := zerolog.Nop()

	h := &harness{
		db:          db,
		redis:       mini,
		chatRepo:    repository.NewChatRepository(db),
		messageRepo: repository.NewMessageRepository(db),
		userRepo:    repository.NewUserRepository(db),
		notifRepo:   repository.NewNotificationRepository(db),
		friendRepo:  repository.NewFriendRepository(db),
		publisher:   newRecordingPublisher(),
	}

	h.unread = NewUnreadService(h.messageRepo, cache, time.Minute, logger)
	h.notifications = NewNotificationService(h.notifRepo, h.userRepo, h.publisher, validate, 4, 5*time.Second, logger)
	h.messages = NewMessageService(h.messageRepo, h.chatRepo, h.userRepo, codec, h.unread, h.notifications, h.publisher, validate, 5*time.Second, logger)
	h.chats = NewChatService(h.chatRepo, h.messageRepo, h.userRepo, codec, h.unread, h.notifications, h.publisher, validate, logger)
	h.friends = NewFriendService(h.friendRepo, h.userRepo, h.notifications, validate, logger)

	t.Cleanup(h.notifications.Wait)
	return h
}

func newEncryptedHarness(t *testing.T) *harness {
	t.Helper()
	codec, err := crypto.NewCodec(testEncryptionKey)
	require.NoError(t, err)
	return newHarness(t, codec)
}
