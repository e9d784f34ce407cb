package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/require"
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport is an in-memory websocket. Tests write client frames to inbound
// and read server frames from outbound.
type fakeTransport struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once

	mu    sync.Mutex
	pong  func(string) error
	pings int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}

	if messageType == websocket.PingMessage {
		f.mu.Lock()
		f.pings++
		f.mu.Unlock()
		return nil
	}

	select {
	case f.outbound <- data:
		return nil
	case <-f.closed:
		return errTransportClosed
	}
}

func (f *fakeTransport) SetPongHandler(handler func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pong = handler
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) send(t *testing.T, event map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	f.inbound <- raw
}

// next returns the next server frame of the given type, skipping others.
func (f *fakeTransport) next(t *testing.T, eventType EventType) map[string]interface{} {
	t.Helper()
	return f.nextAbout(t, eventType, "")
}

// nextAbout is next restricted to frames whose user_id matches userID.
func (f *fakeTransport) nextAbout(t *testing.T, eventType EventType, userID string) map[string]interface{} {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-f.outbound:
			var frame map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &frame))
			if frame["type"] == string(eventType) && (userID == "" || frame["user_id"] == userID) {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
			return nil
		}
	}
}

// none asserts that no frame of the given type arrives within the window.
func (f *fakeTransport) none(t *testing.T, eventType EventType, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case raw := <-f.outbound:
			var frame map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &frame))
			require.NotEqual(t, string(eventType), frame["type"], "unexpected %s frame", eventType)
		case <-deadline:
			return
		}
	}
}

type connected struct {
	transport *fakeTransport
	done      chan error
}

func connect(t *testing.T, gateway *Gateway, userID string) connected {
	t.Helper()
	transport := newFakeTransport()
	done := make(chan error, 1)
	go func() {
		done <- gateway.Serve(context.Background(), userID, transport)
	}()
	require.Eventually(t, func() bool {
		return gateway.Presence().Connections(userID) > 0 && transport.hasPongHandler()
	}, time.Second, 5*time.Millisecond)
	return connected{transport: transport, done: done}
}

func (c connected) disconnect(t *testing.T) {
	t.Helper()
	_ = c.transport.Close()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler did not return")
	}
}

func (f *fakeTransport) hasPongHandler() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pong != nil
}
