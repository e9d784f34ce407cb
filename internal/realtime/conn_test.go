package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnQueueDropsOldestWhenFull(t *testing.T) {
	conn := newConn("alice", newFakeTransport(), 2)

	require.False(t, conn.enqueue([]byte("1")))
	require.False(t, conn.enqueue([]byte("2")))
	require.True(t, conn.enqueue([]byte("3")))

	frames := conn.drain()
	require.Equal(t, [][]byte{[]byte("2"), []byte("3")}, frames)
	require.Empty(t, conn.drain())
}

func TestConnIgnoresFramesAfterClose(t *testing.T) {
	transport := newFakeTransport()
	conn := newConn("alice", transport, 2)

	conn.close()
	conn.close()

	require.False(t, conn.enqueue([]byte("late")))
	require.Empty(t, conn.drain())
	require.True(t, transport.isClosed())
}
