package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transport is the subset of a websocket connection the gateway drives. Both the
// fiber and gorilla websocket connections satisfy it.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetPongHandler(handler func(appData string) error)
	Close() error
}

// Conn is one live client connection. Outbound frames go through a bounded queue;
// when it is full the oldest frame is discarded so a slow reader never blocks a
// broadcast.
type Conn struct {
	id        string
	userID    string
	transport Transport
	capacity  int

	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	lastActivity atomic.Int64

	// chats is guarded by the gateway lock.
	chats map[string]struct{}
}

func newConn(userID string, transport Transport, capacity int) *Conn {
	if capacity <= 0 {
		capacity = 64
	}
	conn := &Conn{
		id:        uuid.NewString(),
		userID:    userID,
		transport: transport,
		capacity:  capacity,
		signal:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
		chats:     make(map[string]struct{}),
	}
	conn.Touch()
	return conn
}

// ID identifies the connection within this process.
func (c *Conn) ID() string { return c.id }

// UserID is the authenticated owner of the connection.
func (c *Conn) UserID() string { return c.userID }

// Touch records liveness. Any inbound frame, heartbeat or pong counts.
func (c *Conn) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Conn) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActivity.Load()))
}

// enqueue adds a frame without blocking and reports whether an older frame was dropped.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	c.mu.Lock()
	dropped := false
	if len(c.queue) >= c.capacity {
		c.queue[0] = nil
		c.queue = c.queue[1:]
		dropped = true
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return dropped
}

func (c *Conn) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.queue
	c.queue = nil
	return frames
}

// writeLoop is the only writer on the transport.
func (c *Conn) writeLoop(pingInterval time.Duration, logger zerolog.Logger) {
	defer c.close()

	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.signal:
			for _, frame := range c.drain() {
				if err := c.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
					logger.Debug().Err(err).Str("conn_id", c.id).Msg("realtime write loop terminated")
					return
				}
			}
		case <-ticker.C:
			if err := c.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug().Err(err).Str("conn_id", c.id).Msg("realtime ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.transport.Close()
	})
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
