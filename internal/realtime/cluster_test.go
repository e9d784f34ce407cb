package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

func newPresenceClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestRedisPresenceCountsAcrossNodes(t *testing.T) {
	server, client := newPresenceClient(t)
	presence := NewRedisPresence(client, "gema:test", time.Minute)
	ctx := context.Background()

	total, err := presence.Join(ctx, "node-a", "alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	total, err = presence.Join(ctx, "node-b", "alice")
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	total, err = presence.Leave(ctx, "node-a", "alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	total, err = presence.Leave(ctx, "node-b", "alice")
	require.NoError(t, err)
	require.EqualValues(t, 0, total)
	require.False(t, server.Exists("gema:test:presence:user:alice"))
}

func TestRedisPresenceDiscardsCrashedNodes(t *testing.T) {
	server, client := newPresenceClient(t)
	presence := NewRedisPresence(client, "gema:test", time.Minute)
	clock := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	presence.now = func() time.Time { return clock }
	ctx := context.Background()

	for _, node := range []string{"node-a", "node-a", "node-b"} {
		_, err := presence.Join(ctx, node, "alice")
		require.NoError(t, err)
	}

	// node-a dies holding two connections; node-b keeps heartbeating.
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, presence.Heartbeat(ctx, "node-b"))

	nodes, err := client.ZRange(ctx, "gema:test:presence:nodes", 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"node-b"}, nodes)

	total, err := presence.Leave(ctx, "node-b", "alice")
	require.NoError(t, err)
	require.EqualValues(t, 0, total)
	require.False(t, server.Exists("gema:test:presence:user:alice"))
}

func TestGatewayPresenceSpansNodes(t *testing.T) {
	_, client := newPresenceClient(t)
	cluster := NewRedisPresence(client, "gema:test", time.Minute)
	bus := newMemoryBus("bus")
	store := &recordingStore{}

	nodeA := startGateway(t, Options{NodeID: "node-a", Cluster: cluster}, store, bus)
	nodeB := startGateway(t, Options{NodeID: "node-b", Cluster: cluster}, store, bus)

	bob := connect(t, nodeB, "bob")
	aliceOnA := connect(t, nodeA, "alice")
	online := bob.transport.nextAbout(t, EventUserOnline, "alice")
	require.Equal(t, "ONLINE", online["status"])

	aliceOnB := connect(t, nodeB, "alice")
	bob.transport.none(t, EventUserOnline, 100*time.Millisecond)

	// Leaving node-a keeps alice online through node-b.
	aliceOnA.disconnect(t)
	bob.transport.none(t, EventUserOffline, 150*time.Millisecond)
	write, ok := store.last("alice")
	require.True(t, ok)
	require.Equal(t, models.UserStatusOnline, write.status)
	require.Nil(t, write.lastSeen)

	aliceOnB.disconnect(t)
	offline := bob.transport.nextAbout(t, EventUserOffline, "alice")
	require.NotEmpty(t, offline["last_seen"])

	write, ok = store.last("alice")
	require.True(t, ok)
	require.Equal(t, models.UserStatusOffline, write.status)
	require.NotNil(t, write.lastSeen)
}

func TestGatewayFallsBackToNodeCountWhenClusterFails(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := &recordingStore{}
	gateway := newTestGateway(t, Options{
		ActionTimeout: 200 * time.Millisecond,
		Cluster:       NewRedisPresence(client, "gema:test", time.Minute),
	}, store)
	server.Close()

	alice := connect(t, gateway, "alice")
	alice.disconnect(t)

	write, ok := store.last("alice")
	require.True(t, ok)
	require.Equal(t, models.UserStatusOffline, write.status)
}
