package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
	"github.com/noah-isme/gema-chat-api/internal/repository"
	"github.com/noah-isme/gema-chat-api/internal/testutil"
)

func TestFriendRequestAcceptFlow(t *testing.T) {
	h := newHarness(t, nil)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")
	ctx := context.Background()

	_, err := h.friends.SendRequest(ctx, alice.ID, dto.FriendRequestCreateRequest{ReceiverID: alice.ID})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)

	_, err = h.friends.SendRequest(ctx, alice.ID, dto.FriendRequestCreateRequest{ReceiverID: "ghost"})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)

	request, err := h.friends.SendRequest(ctx, alice.ID, dto.FriendRequestCreateRequest{ReceiverID: bob.ID, Message: "<b>hi</b> from class"})
	require.NoError(t, err)
	require.Equal(t, models.FriendRequestPending, request.Status)
	require.Equal(t, "hi from class", request.Message)

	_, err = h.friends.SendRequest(ctx, bob.ID, dto.FriendRequestCreateRequest{ReceiverID: alice.ID})
	require.ErrorIs(t, err, repository.ErrRequestPending)

	_, err = h.friends.Accept(ctx, alice.ID, request.ID)
	require.ErrorIs(t, err, apperror.ErrNotFound, "only the receiver can answer")

	resolution, err := h.friends.Accept(ctx, bob.ID, request.ID)
	require.NoError(t, err)
	require.Equal(t, models.FriendRequestAccepted, resolution.Request.Status)
	require.NotNil(t, resolution.Friendship)

	_, err = h.friends.SendRequest(ctx, alice.ID, dto.FriendRequestCreateRequest{ReceiverID: bob.ID})
	require.ErrorIs(t, err, apperror.ErrConflict)

	pushes := h.publisher.ofType(realtime.EventNotification)
	require.Len(t, pushes, 2)

	invite := pushes[0].event.(realtime.NotificationEvent).Notification
	require.Equal(t, []string{bob.ID}, pushes[0].userIDs)
	require.Equal(t, models.NotificationTypeFriendRequest, invite.Type)
	data := invite.Data.(dto.FriendRequestNotificationData)
	require.Equal(t, request.ID, data.RequestID)
	require.Equal(t, "hi from class", data.Note)

	accepted := pushes[1].event.(realtime.NotificationEvent).Notification
	require.Equal(t, []string{alice.ID}, pushes[1].userIDs)
	require.Equal(t, models.NotificationTypeFriendRequestAccepted, accepted.Type)
	require.Equal(t, bob.ID, accepted.SenderID)
}

func TestFriendRequestReject(t *testing.T) {
	h := newHarness(t, nil)
	alice := testutil.CreateUser(t, h.db, "alice")
	bob := testutil.CreateUser(t, h.db, "bob")
	ctx := context.Background()

	request, err := h.friends.SendRequest(ctx, alice.ID, dto.FriendRequestCreateRequest{ReceiverID: bob.ID})
	require.NoError(t, err)

	resolution, err := h.friends.Reject(ctx, bob.ID, request.ID)
	require.NoError(t, err)
	require.Equal(t, models.FriendRequestRejected, resolution.Request.Status)
	require.Nil(t, resolution.Friendship)

	_, err = h.friends.Accept(ctx, bob.ID, request.ID)
	require.ErrorIs(t, err, repository.ErrNotPending)

	var kinds []string
	require.NoError(t, h.db.Model(&models.Notification{}).Where("receiver_id = ?", alice.ID).Pluck("type", &kinds).Error)
	require.Equal(t, []string{string(models.NotificationTypeFriendRequestRejected)}, kinds)

	require.NoError(t, h.db.Create(&models.Block{BlockerID: bob.ID, BlockedID: alice.ID}).Error)
	_, err = h.friends.SendRequest(ctx, alice.ID, dto.FriendRequestCreateRequest{ReceiverID: bob.ID})
	require.ErrorIs(t, err, repository.ErrUserBlocked)
}
