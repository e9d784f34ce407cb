package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/observability"
)

// ErrGatewayClosed is returned by Serve after Shutdown.
var ErrGatewayClosed = errors.New("realtime gateway closed")

// StatusStore persists presence transitions. lastSeen is only set on the way to OFFLINE.
type StatusStore interface {
	UpdatePresence(ctx context.Context, userID string, status models.UserStatus, lastSeen *time.Time) error
}

// ClientActions executes client events that touch durable state.
type ClientActions interface {
	MarkRead(ctx context.Context, userID, chatID string) error
	RelayMessage(ctx context.Context, userID, messageID string) error
	AuthorizeChat(ctx context.Context, userID, chatID string) error
}

// Options tunes the gateway.
type Options struct {
	NodeID            string
	QueueSize         int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ActionTimeout     time.Duration

	// RelayQueueSize bounds the envelopes waiting to be published. When full,
	// new envelopes are dropped for the relays and still delivered locally.
	RelayQueueSize int

	// Cluster, when set, decides ONLINE and OFFLINE from the connection count
	// across every node instead of this node alone.
	Cluster ClusterPresence
}

const recentEnvelopes = 4096

const (
	scopeUsers = "users"
	scopeChat  = "chat"
	scopeAll   = "all"
)

// Gateway owns every live connection of this process. It is created once at start
// up, injected where pushes are needed and closed with Shutdown.
type Gateway struct {
	opts     Options
	logger   zerolog.Logger
	presence *Registry
	store    StatusStore
	relays   []Relay
	outbox   chan []byte
	recent   *recentIDs

	actionsMu sync.RWMutex
	actions   ClientActions

	mu        sync.RWMutex
	conns     map[*Conn]struct{}
	userRooms map[string]map[*Conn]struct{}
	chatRooms map[string]map[*Conn]struct{}
	closed    bool

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once

	publisher sync.WaitGroup
	drain     chan struct{}
	drainOnce sync.Once
}

// NewGateway constructs a gateway. store may be nil when presence is not persisted.
func NewGateway(opts Options, presence *Registry, store StatusStore, logger zerolog.Logger, relays ...Relay) *Gateway {
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	if opts.HeartbeatTimeout <= opts.HeartbeatInterval {
		opts.HeartbeatTimeout = 2 * opts.HeartbeatInterval
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 5 * time.Second
	}
	if opts.RelayQueueSize <= 0 {
		opts.RelayQueueSize = 256
	}
	if presence == nil {
		presence = NewRegistry()
	}

	return &Gateway{
		opts:      opts,
		logger:    logger.With().Str("component", "realtime_gateway").Str("node_id", opts.NodeID).Logger(),
		presence:  presence,
		store:     store,
		relays:    relays,
		outbox:    make(chan []byte, opts.RelayQueueSize),
		recent:    newRecentIDs(recentEnvelopes),
		conns:     make(map[*Conn]struct{}),
		userRooms: make(map[string]map[*Conn]struct{}),
		chatRooms: make(map[string]map[*Conn]struct{}),
		stop:      make(chan struct{}),
		drain:     make(chan struct{}),
	}
}

// SetActions installs the handler for durable client events. Until set, those
// events are answered with an error event.
func (g *Gateway) SetActions(actions ClientActions) {
	g.actionsMu.Lock()
	defer g.actionsMu.Unlock()
	g.actions = actions
}

func (g *Gateway) clientActions() ClientActions {
	g.actionsMu.RLock()
	defer g.actionsMu.RUnlock()
	return g.actions
}

// Presence exposes the node-local registry.
func (g *Gateway) Presence() *Registry { return g.presence }

// NodeID identifies this process on the relay.
func (g *Gateway) NodeID() string { return g.opts.NodeID }

// Start runs the heartbeat reaper and the relay publisher and subscribes to
// every relay.
func (g *Gateway) Start(ctx context.Context) error {
	for _, relay := range g.relays {
		if err := relay.Subscribe(ctx, g.receive); err != nil {
			return err
		}
	}
	g.heartbeat()

	if len(g.relays) > 0 {
		g.publisher.Add(1)
		go g.publishLoop()
	}
	g.wg.Add(1)
	go g.reap()
	return nil
}

// Serve registers a connection for userID and blocks until it ends.
func (g *Gateway) Serve(ctx context.Context, userID string, transport Transport) error {
	conn := newConn(userID, transport, g.opts.QueueSize)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = transport.Close()
		return ErrGatewayClosed
	}
	g.conns[conn] = struct{}{}
	addToRoom(g.userRooms, userID, conn)
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	observability.WSConnections().Inc()
	g.logger.Debug().Str("user_id", userID).Str("conn_id", conn.ID()).Msg("realtime client connected")

	g.join(ctx, conn)
	transport.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	written := make(chan struct{})
	go func() {
		defer close(written)
		conn.writeLoop(g.opts.HeartbeatInterval, g.logger)
	}()

	g.readLoop(ctx, conn)
	conn.close()
	<-written

	g.unregister(conn)
	observability.WSConnections().Dec()
	g.logger.Debug().Str("user_id", userID).Str("conn_id", conn.ID()).Msg("realtime client disconnected")

	g.leave(context.WithoutCancel(ctx), userID)
	return nil
}

// join acquires presence once per connection. The user comes ONLINE only on
// their first connection in the cluster.
func (g *Gateway) join(ctx context.Context, conn *Conn) {
	transition, first := g.presence.Acquire(conn.userID)
	if total, ok := g.clusterCount(ctx, conn.userID, true); ok && total > 1 {
		first = false
	}
	if first {
		g.applyTransition(ctx, transition, nil)
	}
}

// leave releases presence once per connection. The user goes OFFLINE only when
// no node holds a connection for them.
func (g *Gateway) leave(ctx context.Context, userID string) {
	transition, last := g.presence.Release(userID)
	if total, ok := g.clusterCount(ctx, userID, false); ok && total > 0 {
		last = false
	}
	if last {
		g.applyTransition(ctx, transition, nil)
	}
}

// clusterCount updates the cluster-wide counter. ok is false when no counter is
// configured or it failed, in which case the node-local count decides.
func (g *Gateway) clusterCount(ctx context.Context, userID string, joined bool) (int64, bool) {
	if g.opts.Cluster == nil {
		return 0, false
	}

	countCtx, cancel := context.WithTimeout(ctx, g.opts.ActionTimeout)
	defer cancel()

	var (
		total int64
		err   error
	)
	if joined {
		total, err = g.opts.Cluster.Join(countCtx, g.opts.NodeID, userID)
	} else {
		total, err = g.opts.Cluster.Leave(countCtx, g.opts.NodeID, userID)
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("cluster presence unavailable, using node-local count")
		return 0, false
	}
	return total, true
}

func (g *Gateway) heartbeat() {
	if g.opts.Cluster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.ActionTimeout)
	defer cancel()
	if err := g.opts.Cluster.Heartbeat(ctx, g.opts.NodeID); err != nil {
		g.logger.Warn().Err(err).Msg("failed to refresh cluster presence heartbeat")
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *Conn) {
	for {
		_, data, err := conn.transport.ReadMessage()
		if err != nil {
			if !conn.isClosed() {
				g.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("realtime read loop ended")
			}
			return
		}
		conn.Touch()
		g.dispatch(ctx, conn, data)
	}
}

// dispatch decodes the event type first and then its payload. Unknown events and
// undecodable frames are ignored.
func (g *Gateway) dispatch(ctx context.Context, conn *Conn, data []byte) {
	var header envelopeHeader
	if err := json.Unmarshal(data, &header); err != nil {
		g.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("ignoring malformed realtime frame")
		return
	}

	switch header.Type {
	case EventHeartbeat:
	case EventJoin:
		var payload joinPayload
		if json.Unmarshal(data, &payload) != nil {
			return
		}
		if payload.UserID != "" && payload.UserID != conn.userID {
			g.reject(conn, header.Type, apperror.ErrForbidden)
		}
	case EventStatusChange:
		var payload statusChangePayload
		if json.Unmarshal(data, &payload) != nil {
			return
		}
		if payload.UserID != "" && payload.UserID != conn.userID {
			g.reject(conn, header.Type, apperror.ErrForbidden)
			return
		}
		if err := g.setStatus(ctx, conn.userID, payload.Status, conn); err != nil {
			g.reject(conn, header.Type, err)
		}
	case EventMarkRead:
		var payload chatPayload
		if json.Unmarshal(data, &payload) != nil || payload.ChatID == "" {
			return
		}
		g.runAction(ctx, conn, header.Type, func(ctx context.Context, actions ClientActions) error {
			return actions.MarkRead(ctx, conn.userID, payload.ChatID)
		})
	case EventSendMessage:
		var payload sendMessagePayload
		if json.Unmarshal(data, &payload) != nil || payload.MessageID == "" {
			return
		}
		g.runAction(ctx, conn, header.Type, func(ctx context.Context, actions ClientActions) error {
			return actions.RelayMessage(ctx, conn.userID, payload.MessageID)
		})
	case EventJoinChat:
		var payload chatPayload
		if json.Unmarshal(data, &payload) != nil || payload.ChatID == "" {
			return
		}
		g.runAction(ctx, conn, header.Type, func(ctx context.Context, actions ClientActions) error {
			if err := actions.AuthorizeChat(ctx, conn.userID, payload.ChatID); err != nil {
				return err
			}
			g.joinChat(conn, payload.ChatID)
			return nil
		})
	case EventLeaveChat:
		var payload chatPayload
		if json.Unmarshal(data, &payload) != nil || payload.ChatID == "" {
			return
		}
		g.leaveChat(conn, payload.ChatID)
	case EventTypingStarted:
		var payload chatPayload
		if json.Unmarshal(data, &payload) != nil || payload.ChatID == "" {
			return
		}
		if !g.inChat(conn, payload.ChatID) {
			return
		}
		g.push(scopeChat, []string{payload.ChatID}, TypingEvent{Type: EventTyping, ChatID: payload.ChatID, UserID: conn.userID}, conn)
	default:
		g.logger.Debug().Str("event", string(header.Type)).Msg("ignoring unknown realtime event")
	}
}

func (g *Gateway) runAction(ctx context.Context, conn *Conn, event EventType, fn func(context.Context, ClientActions) error) {
	actions := g.clientActions()
	if actions == nil {
		g.reject(conn, event, apperror.ErrUnavailable)
		return
	}

	actionCtx, cancel := context.WithTimeout(ctx, g.opts.ActionTimeout)
	defer cancel()

	if err := fn(actionCtx, actions); err != nil {
		g.reject(conn, event, err)
	}
}

func (g *Gateway) reject(conn *Conn, event EventType, err error) {
	g.logger.Debug().Err(err).Str("event", string(event)).Str("conn_id", conn.ID()).Msg("realtime event rejected")
	frame, encodeErr := encodeEvent(ErrorEvent{Type: EventError, Event: event, Message: publicMessage(err)})
	if encodeErr != nil {
		return
	}
	g.enqueue(conn, frame)
}

func publicMessage(err error) string {
	var fieldErr *apperror.FieldError
	switch {
	case apperror.IsHidden(err):
		return "resource not found"
	case errors.As(err, &fieldErr):
		return fieldErr.Error()
	case errors.Is(err, apperror.ErrConflict):
		return "conflict"
	case errors.Is(err, apperror.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "temporarily unavailable"
	default:
		return "request failed"
	}
}

// SetStatus applies a status change requested outside a websocket, e.g. over HTTP.
func (g *Gateway) SetStatus(ctx context.Context, userID string, status models.UserStatus) error {
	return g.setStatus(ctx, userID, status, nil)
}

func (g *Gateway) setStatus(ctx context.Context, userID string, status models.UserStatus, origin *Conn) error {
	transition, changed, err := g.presence.SetStatus(userID, status)
	if err != nil || !changed {
		return err
	}
	g.applyTransition(ctx, transition, origin)
	return nil
}

// applyTransition broadcasts a presence change and persists it best-effort.
func (g *Gateway) applyTransition(ctx context.Context, transition Transition, origin *Conn) {
	observability.PresenceTransitions().WithLabelValues(string(transition.To)).Inc()
	g.push(scopeAll, nil, PresenceChange(transition), origin)

	if g.store == nil {
		return
	}

	var lastSeen *time.Time
	if transition.To == models.UserStatusOffline {
		at := transition.At
		lastSeen = &at
	}

	persistCtx, cancel := context.WithTimeout(ctx, g.opts.ActionTimeout)
	defer cancel()
	if err := g.store.UpdatePresence(persistCtx, transition.UserID, transition.To, lastSeen); err != nil {
		g.logger.Warn().Err(err).Str("user_id", transition.UserID).Str("status", string(transition.To)).Msg("failed to persist presence")
	}
}

// PushToUsers delivers an event to every connection of the given users, on every node.
func (g *Gateway) PushToUsers(userIDs []string, event Event) {
	if len(userIDs) == 0 {
		return
	}
	g.push(scopeUsers, userIDs, event, nil)
}

// PushToChat delivers an event to connections that joined the chat room.
func (g *Gateway) PushToChat(chatID string, event Event) {
	g.push(scopeChat, []string{chatID}, event, nil)
}

// Broadcast delivers an event to every connection.
func (g *Gateway) Broadcast(event Event) {
	g.push(scopeAll, nil, event, nil)
}

func (g *Gateway) push(scope string, targets []string, event Event, except *Conn) {
	frame, err := encodeEvent(event)
	if err != nil {
		g.logger.Error().Err(err).Str("event", string(event.EventType())).Msg("failed to encode realtime event")
		return
	}

	g.deliverLocal(scope, targets, frame, except)
	g.publish(RelayEnvelope{
		ID:      uuid.NewString(),
		Source:  g.opts.NodeID,
		Scope:   scope,
		Targets: targets,
		Frame:   frame,
		SentAt:  time.Now().UTC(),
	})
}

func (g *Gateway) deliverLocal(scope string, targets []string, frame []byte, except *Conn) {
	recipients := make(map[*Conn]struct{})

	g.mu.RLock()
	switch scope {
	case scopeAll:
		for conn := range g.conns {
			recipients[conn] = struct{}{}
		}
	case scopeUsers:
		for _, userID := range targets {
			for conn := range g.userRooms[userID] {
				recipients[conn] = struct{}{}
			}
		}
	case scopeChat:
		for _, chatID := range targets {
			for conn := range g.chatRooms[chatID] {
				recipients[conn] = struct{}{}
			}
		}
	}
	g.mu.RUnlock()

	delete(recipients, except)
	for conn := range recipients {
		g.enqueue(conn, frame)
	}
}

func (g *Gateway) enqueue(conn *Conn, frame []byte) {
	if conn.enqueue(frame) {
		observability.WSDroppedFrames().Inc()
		g.logger.Warn().Str("user_id", conn.userID).Str("conn_id", conn.ID()).Msg("dropping oldest realtime frame for slow client")
	}
}

// publish queues an envelope for the relays without waiting on them.
func (g *Gateway) publish(envelope RelayEnvelope) {
	if len(g.relays) == 0 {
		return
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to encode relay envelope")
		return
	}

	select {
	case g.outbox <- payload:
	default:
		for _, relay := range g.relays {
			observability.RelayEvents().WithLabelValues(relay.Name(), "dropped").Inc()
		}
		g.logger.Warn().Str("scope", envelope.Scope).Msg("relay queue full, dropping realtime event for other nodes")
	}
}

// publishLoop sends queued envelopes until every connection handler has
// returned, then flushes what is left.
func (g *Gateway) publishLoop() {
	defer g.publisher.Done()

	for {
		select {
		case payload := <-g.outbox:
			g.send(payload)
		case <-g.drain:
			for {
				select {
				case payload := <-g.outbox:
					g.send(payload)
				default:
					return
				}
			}
		}
	}
}

func (g *Gateway) send(payload []byte) {
	for _, relay := range g.relays {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := relay.Publish(ctx, payload)
		cancel()
		if err != nil {
			g.logger.Warn().Err(err).Str("relay", relay.Name()).Msg("failed to publish realtime event")
			continue
		}
		observability.RelayEvents().WithLabelValues(relay.Name(), "published").Inc()
	}
}

// receive delivers an event published by another node. Echoes of our own events
// are dropped, as are envelopes already delivered through another relay.
func (g *Gateway) receive(relay string, payload []byte) {
	var envelope RelayEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		g.logger.Warn().Err(err).Str("relay", relay).Msg("invalid relay envelope")
		return
	}
	if envelope.Source == g.opts.NodeID {
		return
	}
	if envelope.ID != "" && !g.recent.add(envelope.ID) {
		observability.RelayEvents().WithLabelValues(relay, "duplicate").Inc()
		return
	}

	observability.RelayEvents().WithLabelValues(relay, "received").Inc()
	g.deliverLocal(envelope.Scope, envelope.Targets, envelope.Frame, nil)
}

func (g *Gateway) joinChat(conn *Conn, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[conn]; !ok {
		return
	}
	addToRoom(g.chatRooms, chatID, conn)
	conn.chats[chatID] = struct{}{}
}

func (g *Gateway) leaveChat(conn *Conn, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	removeFromRoom(g.chatRooms, chatID, conn)
	delete(conn.chats, chatID)
}

func (g *Gateway) inChat(conn *Conn, chatID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := conn.chats[chatID]
	return ok
}

// EvictFromChat removes the users' connections from a chat room, e.g. after they
// left the chat or it was deleted.
func (g *Gateway) EvictFromChat(chatID string, userIDs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for conn := range g.chatRooms[chatID] {
		if len(userIDs) > 0 && !contains(userIDs, conn.userID) {
			continue
		}
		removeFromRoom(g.chatRooms, chatID, conn)
		delete(conn.chats, chatID)
	}
}

func (g *Gateway) unregister(conn *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.conns, conn)
	removeFromRoom(g.userRooms, conn.userID, conn)
	for chatID := range conn.chats {
		removeFromRoom(g.chatRooms, chatID, conn)
	}
	conn.chats = map[string]struct{}{}
}

// reap closes connections that stopped sending frames or pongs.
func (g *Gateway) reap() {
	defer g.wg.Done()

	interval := g.opts.HeartbeatTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case now := <-ticker.C:
			g.heartbeat()

			g.mu.RLock()
			var stale []*Conn
			for conn := range g.conns {
				if conn.idleSince(now) > g.opts.HeartbeatTimeout {
					stale = append(stale, conn)
				}
			}
			g.mu.RUnlock()

			for _, conn := range stale {
				g.logger.Debug().Str("user_id", conn.userID).Str("conn_id", conn.ID()).Msg("closing realtime connection after heartbeat timeout")
				conn.close()
			}
		}
	}
}

// Shutdown closes every connection and waits for their handlers to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.once.Do(func() {
		g.mu.Lock()
		g.closed = true
		conns := make([]*Conn, 0, len(g.conns))
		for conn := range g.conns {
			conns = append(conns, conn)
		}
		g.mu.Unlock()

		close(g.stop)
		for _, conn := range conns {
			conn.close()
		}
	})

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		g.drainOnce.Do(func() { close(g.drain) })
		g.publisher.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func addToRoom(rooms map[string]map[*Conn]struct{}, key string, conn *Conn) {
	room, ok := rooms[key]
	if !ok {
		room = make(map[*Conn]struct{})
		rooms[key] = room
	}
	room[conn] = struct{}{}
}

func removeFromRoom(rooms map[string]map[*Conn]struct{}, key string, conn *Conn) {
	room, ok := rooms[key]
	if !ok {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(rooms, key)
	}
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
