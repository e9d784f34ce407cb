package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
	"github.com/noah-isme/gema-chat-api/internal/repository"
	"github.com/noah-isme/gema-chat-api/internal/testutil"
)

func TestPresenceFallsBackToPersistedState(t *testing.T) {
	db := testutil.NewDB(t)
	users := repository.NewUserRepository(db)
	live := testutil.CreateUser(t, db, "live")
	remote := testutil.CreateUser(t, db, "remote")
	gone := testutil.CreateUser(t, db, "gone")

	lastSeen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, users.UpdatePresence(context.Background(), remote.ID, models.UserStatusBusy, nil))
	require.NoError(t, users.UpdatePresence(context.Background(), gone.ID, models.UserStatusOffline, &lastSeen))

	registry := realtime.NewRegistry()
	registry.Acquire(live.ID)

	gateway := realtime.NewGateway(realtime.Options{}, registry, users, zerolog.Nop())
	service := NewPresenceService(registry, gateway, users, validator.New(), zerolog.Nop())

	presence, err := service.Get(context.Background(), []string{live.ID, remote.ID, gone.ID, "ghost", live.ID})
	require.NoError(t, err)
	require.Len(t, presence, 3)

	require.Equal(t, dto.PresenceResponse{UserID: live.ID, Status: models.UserStatusOnline, Online: true}, presence[0])
	require.Equal(t, models.UserStatusBusy, presence[1].Status, "users connected to another node report their persisted status")
	require.True(t, presence[1].Online)
	require.False(t, presence[2].Online)
	require.NotNil(t, presence[2].LastSeen)
	require.True(t, lastSeen.Equal(*presence[2].LastSeen))

	_, err = service.Get(context.Background(), []string{" "})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)
}

func TestPresenceUpdateStatusRequiresConnection(t *testing.T) {
	db := testutil.NewDB(t)
	users := repository.NewUserRepository(db)
	user := testutil.CreateUser(t, db, "user")

	registry := realtime.NewRegistry()
	gateway := realtime.NewGateway(realtime.Options{}, registry, users, zerolog.Nop())
	service := NewPresenceService(registry, gateway, users, validator.New(), zerolog.Nop())

	_, err := service.UpdateStatus(context.Background(), user.ID, dto.PresenceStatusRequest{Status: "AWAY"})
	require.ErrorIs(t, err, realtime.ErrNotConnected)

	_, err = service.UpdateStatus(context.Background(), user.ID, dto.PresenceStatusRequest{Status: "OFFLINE"})
	require.Error(t, err, "offline is derived from connections")

	registry.Acquire(user.ID)
	presence, err := service.UpdateStatus(context.Background(), user.ID, dto.PresenceStatusRequest{Status: "DO_NOT_DISTURB"})
	require.NoError(t, err)
	require.Equal(t, models.UserStatusDoNotDisturb, presence.Status)

	stored, err := users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, models.UserStatusDoNotDisturb, stored.Status)
}
