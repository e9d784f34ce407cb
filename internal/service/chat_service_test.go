package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
	"github.com/noah-isme/gema-chat-api/internal/testutil"
)

func (h *harness) group(t *testing.T, ownerID, name string, memberIDs ...string) dto.ChatResponse {
	t.Helper()
	chat, created, err := h.chats.CreateOrReuse(context.Background(), ownerID, dto.ChatCreateRequest{
		Type:      string(models.ChatTypeGroup),
		Name:      name,
		MemberIDs: append([]string{ownerID}, memberIDs...),
	})
	require.NoError(t, err)
	require.True(t, created)
	return chat
}

func (h *harness) private(t *testing.T, actorID, otherID string) (dto.ChatResponse, bool) {
	t.Helper()
	chat, created, err := h.chats.CreateOrReuse(context.Background(), actorID, dto.ChatCreateRequest{
		Type:      string(models.ChatTypePrivate),
		MemberIDs: []string{otherID},
	})
	require.NoError(t, err)
	return chat, created
}

func (h *harness) owners(t *testing.T, chatID string) []string {
	t.Helper()
	var ids []string
	require.NoError(t, h.db.Model(&models.ChatMember{}).
		Where("chat_id = ? AND role = ?", chatID, models.MemberRoleOwner).
		Pluck("user_id", &ids).Error)
	return ids
}

func TestCreateOrReuseReturnsExistingPrivateChat(t *testing.T) {
	h := newHarness(t, nil)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")

	first, created := h.private(t, alice.ID, bob.ID)
	require.True(t, created)
	require.Len(t, first.Members, 2)

	second, created := h.private(t, alice.ID, bob.ID)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	reverse, created := h.private(t, bob.ID, alice.ID)
	require.False(t, created)
	require.Equal(t, first.ID, reverse.ID, "the pair is unordered")

	require.Equal(t, []string{alice.ID}, h.owners(t, first.ID))
}

func TestCreateOrReuseSerializesConcurrentPrivateCreates(t *testing.T) {
	h := newHarness(t, nil)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")

	const attempts = 8
	ids := make(chan string, attempts)
	errs := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		actor, other := alice.ID, bob.ID
		if i%2 == 1 {
			actor, other = other, actor
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			chat, _, err := h.chats.CreateOrReuse(context.Background(), actor, dto.ChatCreateRequest{
				Type:      string(models.ChatTypePrivate),
				MemberIDs: []string{other},
			})
			if err != nil {
				errs <- err
				return
			}
			ids <- chat.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 1)

	var count int64
	require.NoError(t, h.db.Model(&models.Chat{}).Where("type = ?", models.ChatTypePrivate).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCreateChatValidation(t *testing.T) {
	h := newHarness(t, nil)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")
	carol := testutil.CreateUser(t, h.db, "carol")
	ctx := context.Background()

	_, _, err := h.chats.CreateOrReuse(ctx, alice.ID, dto.ChatCreateRequest{Type: "PRIVATE", MemberIDs: []string{bob.ID, carol.ID}})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)

	_, _, err = h.chats.CreateOrReuse(ctx, alice.ID, dto.ChatCreateRequest{Type: "PRIVATE", MemberIDs: []string{alice.ID}})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument, "a private chat with yourself has no other member")

	_, _, err = h.chats.CreateOrReuse(ctx, alice.ID, dto.ChatCreateRequest{Type: "PRIVATE", MemberIDs: []string{"ghost"}})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)

	_, _, err = h.chats.CreateOrReuse(ctx, alice.ID, dto.ChatCreateRequest{Type: "GROUP", Name: "  <b></b> ", MemberIDs: []string{bob.ID}})
	var fieldErr *apperror.FieldError
	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, "name", fieldErr.Field)

	_, _, err = h.chats.CreateOrReuse(ctx, alice.ID, dto.ChatCreateRequest{Type: "CHANNEL", MemberIDs: []string{bob.ID}})
	require.Error(t, err)
}

func TestCreateGroupInvitesMembers(t *testing.T) {
	h := newHarness(t, nil)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")
	carol := testutil.CreateUser(t, h.db, "carol")

	chat := h.group(t, alice.ID, "Study <i>group</i>", bob.ID, carol.ID, bob.ID)
	require.Equal(t, "Study group", chat.Name)
	require.Len(t, chat.Members, 3)
	require.Equal(t, []string{alice.ID}, h.owners(t, chat.ID))

	pushes := h.publisher.ofType(realtime.EventNotification)
	require.Len(t, pushes, 2)
	receivers := []string{}
	for _, push := range pushes {
		event := push.event.(realtime.NotificationEvent)
		require.Equal(t, models.NotificationTypeGroupInvite, event.Notification.Type)
		data, ok := event.Notification.Data.(dto.GroupInviteNotificationData)
		require.True(t, ok)
		require.Equal(t, chat.ID, data.ChatID)
		require.Equal(t, "alice", data.InviterName)
		receivers = append(receivers, push.userIDs...)
	}
	require.ElementsMatch(t, []string{bob.ID, carol.ID}, receivers)
}

func TestLeaveDeletesChatWhenLastMemberLeaves(t *testing.T) {
	h := newHarness(t, nil)
	owner := testutil.CreateUser(t, h.db, "owner")
	ctx := context.Background()

	chat := h.group(t, owner.ID, "solo")
	_, err := h.messages.Send(ctx, owner.ID, dto.MessageSendRequest{ChatID: chat.ID, Content: "note to self"})
	require.NoError(t, err)

	result, err := h.chats.Leave(ctx, owner.ID, chat.ID)
	require.NoError(t, err)
	require.True(t, result.ChatDeleted)

	_, _, err = h.messages.List(ctx, owner.ID, dto.MessageHistoryQuery{ChatID: chat.ID})
	require.ErrorIs(t, err, apperror.ErrNotFound)

	require.Len(t, h.publisher.ofType(realtime.EventChatDeleted), 1)
	require.Empty(t, h.publisher.ofType(realtime.EventMemberLeft))
	require.Equal(t, []string{owner.ID}, h.publisher.evicted(chat.ID))
}

func TestLeaveTransfersOwnershipToAdmin(t *testing.T) {
	h := newHarness(t, nil)
	owner := testutil.CreateUser(t, h.db, "owner")
	member := testutil.CreateUser(t, h.db, "member")
	admin := testutil.CreateUser(t, h.db, "admin")
	ctx := context.Background()

	chat := h.group(t, owner.ID, "team", member.ID, admin.ID)
	_, err := h.chats.UpdateMemberRole(ctx, owner.ID, chat.ID, admin.ID, dto.ChatMemberRoleRequest{Role: "ADMIN"})
	require.NoError(t, err)

	result, err := h.chats.Leave(ctx, owner.ID, chat.ID)
	require.NoError(t, err)
	require.False(t, result.ChatDeleted)
	require.Equal(t, admin.ID, result.NewOwnerID)
	require.Equal(t, []string{admin.ID}, h.owners(t, chat.ID))

	_, err = h.chats.Get(ctx, owner.ID, chat.ID)
	require.ErrorIs(t, err, apperror.ErrNotFound)

	view, err := h.chats.Get(ctx, member.ID, chat.ID)
	require.NoError(t, err)
	require.Len(t, view.Members, 2)

	require.Empty(t, h.publisher.ofType(realtime.EventChatDeleted), "the chat survives the owner leaving")
	left := h.publisher.ofType(realtime.EventMemberLeft)
	require.Len(t, left, 1)
	require.ElementsMatch(t, []string{owner.ID, member.ID, admin.ID}, left[0].userIDs)
	event := left[0].event.(realtime.MemberLeftEvent)
	require.Equal(t, owner.ID, event.UserID)
	require.Equal(t, admin.ID, event.NewOwnerID)
}

func TestConcurrentLeavesKeepExactlyOneOwner(t *testing.T) {
	h := newHarness(t, nil)
	owner := testutil.CreateUser(t, h.db, "owner")
	admin := testutil.CreateUser(t, h.db, "admin")
	m1 := testutil.CreateUser(t, h.db, "m1")
	m2 := testutil.CreateUser(t, h.db, "m2")
	ctx := context.Background()

	chat := h.group(t, owner.ID, "team", admin.ID, m1.ID, m2.ID)
	_, err := h.chats.UpdateMemberRole(ctx, owner.ID, chat.ID, admin.ID, dto.ChatMemberRoleRequest{Role: "ADMIN"})
	require.NoError(t, err)

	errs := make(chan error, 3)
	var wg sync.WaitGroup
	for _, id := range []string{owner.ID, admin.ID, m1.ID} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := h.chats.Leave(ctx, userID, chat.ID)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, []string{m2.ID}, h.owners(t, chat.ID))
}

func TestPrivateChatMembershipIsFixed(t *testing.T) {
	h := newHarness(t, nil)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")
	carol := testutil.CreateUser(t, h.db, "carol")
	ctx := context.Background()

	chat, _ := h.private(t, alice.ID, bob.ID)

	_, err := h.chats.Leave(ctx, alice.ID, chat.ID)
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)

	_, err = h.chats.AddMembers(ctx, alice.ID, chat.ID, dto.ChatMembersAddRequest{UserIDs: []string{carol.ID}})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)

	_, err = h.chats.RemoveMember(ctx, alice.ID, chat.ID, bob.ID)
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)
}

func TestGroupAdministration(t *testing.T) {
	h := newHarness(t, nil)
	owner := testutil.CreateUser(t, h.db, "owner")
	member := testutil.CreateUser(t, h.db, "member")
	guest := testutil.CreateUser(t, h.db, "guest")
	outsider := testutil.CreateUser(t, h.db, "outsider")
	ctx := context.Background()

	chat := h.group(t, owner.ID, "team", member.ID)

	_, err := h.chats.AddMembers(ctx, member.ID, chat.ID, dto.ChatMembersAddRequest{UserIDs: []string{guest.ID}})
	require.True(t, apperror.IsHidden(err), "plain members cannot invite")

	_, err = h.chats.AddMembers(ctx, outsider.ID, chat.ID, dto.ChatMembersAddRequest{UserIDs: []string{guest.ID}})
	require.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = h.chats.AddMembers(ctx, owner.ID, chat.ID, dto.ChatMembersAddRequest{UserIDs: []string{"ghost"}})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)

	view, err := h.chats.AddMembers(ctx, owner.ID, chat.ID, dto.ChatMembersAddRequest{UserIDs: []string{guest.ID, member.ID}})
	require.NoError(t, err)
	require.Len(t, view.Members, 3)

	invites := 0
	for _, push := range h.publisher.ofType(realtime.EventNotification) {
		if push.userIDs[0] == guest.ID {
			invites++
		}
	}
	require.Equal(t, 1, invites, "only newly added members are invited")

	_, err = h.chats.UpdateMemberRole(ctx, owner.ID, chat.ID, owner.ID, dto.ChatMemberRoleRequest{Role: "MEMBER"})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)

	_, err = h.chats.UpdateMemberRole(ctx, owner.ID, chat.ID, guest.ID, dto.ChatMemberRoleRequest{Role: "OWNER"})
	require.Error(t, err, "ownership is never assigned directly")

	view, err = h.chats.RemoveMember(ctx, owner.ID, chat.ID, guest.ID)
	require.NoError(t, err)
	require.Len(t, view.Members, 2)
	require.Equal(t, []string{guest.ID}, h.publisher.evicted(chat.ID))
	removed := h.publisher.ofType(realtime.EventMemberLeft)
	require.Len(t, removed, 1)
	require.ElementsMatch(t, []string{owner.ID, member.ID}, removed[0].userIDs)
	require.Equal(t, guest.ID, removed[0].event.(realtime.MemberLeftEvent).UserID)

	_, err = h.chats.Get(ctx, guest.ID, chat.ID)
	require.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestListChatsOrdersByActivityWithUnreadCounts(t *testing.T) {
	h := newEncryptedHarness(t)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")
	carol := testutil.CreateUser(t, h.db, "carol")
	ctx := context.Background()

	withBob, _ := h.private(t, alice.ID, bob.ID)
	withCarol, _ := h.private(t, alice.ID, carol.ID)

	_, err := h.messages.Send(ctx, carol.ID, dto.MessageSendRequest{ChatID: withCarol.ID, Content: "first"})
	require.NoError(t, err)
	_, err = h.messages.Send(ctx, bob.ID, dto.MessageSendRequest{ChatID: withBob.ID, Content: "hello alice"})
	require.NoError(t, err)
	_, err = h.messages.Send(ctx, bob.ID, dto.MessageSendRequest{ChatID: withBob.ID, Content: "are you there?"})
	require.NoError(t, err)

	chats, err := h.chats.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)

	require.Equal(t, withBob.ID, chats[0].ID, "most recent activity first")
	require.Equal(t, int64(2), chats[0].UnreadCount)
	require.NotNil(t, chats[0].LastMessage)
	require.Equal(t, "are you there?", chats[0].LastMessage.Content)
	require.True(t, chats[0].LastMessage.Encrypted)

	require.Equal(t, withCarol.ID, chats[1].ID)
	require.Equal(t, int64(1), chats[1].UnreadCount)

	single, err := h.chats.Get(ctx, bob.ID, withBob.ID)
	require.NoError(t, err)
	require.Zero(t, single.UnreadCount, "own messages never count as unread")
}
