package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RelayEnvelope carries an encoded event between nodes.
type RelayEnvelope struct {
	ID      string          `json:"id"`
	Source  string          `json:"source"`
	Scope   string          `json:"scope"`
	Targets []string        `json:"targets,omitempty"`
	Frame   json.RawMessage `json:"frame"`
	SentAt  time.Time       `json:"sent_at"`
}

// Relay fans gateway pushes out to the other nodes of a deployment.
type Relay interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	// Subscribe starts delivering remote payloads until ctx ends. It returns once
	// the subscription is established.
	Subscribe(ctx context.Context, handle func(relay string, payload []byte)) error
}

// RedisRelay relays events over a Redis pub/sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisRelay creates a relay publishing on channel.
func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis_relay").Logger(),
	}
}

func (r *RedisRelay) Name() string { return "redis" }

func (r *RedisRelay) Publish(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, handle func(string, []byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	go func() {
		defer func() {
			_ = pubsub.Close()
		}()

		retry := backoff.NewExponentialBackOff()
		retry.InitialInterval = 100 * time.Millisecond
		retry.MaxInterval = 5 * time.Second
		retry.MaxElapsedTime = 0

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				// The pubsub reconnects and resubscribes on the next receive.
				wait := retry.NextBackOff()
				r.logger.Warn().Err(err).Dur("retry_in", wait).Msg("realtime redis subscription interrupted")
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
			retry.Reset()
			handle(r.Name(), []byte(msg.Payload))
		}
	}()
	return nil
}

// NATSRelay relays events over a NATS subject. Every node receives every event, so
// it subscribes without a queue group.
type NATSRelay struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSRelay creates a relay publishing on subject.
func NewNATSRelay(conn *nats.Conn, subject string, logger zerolog.Logger) *NATSRelay {
	return &NATSRelay{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "nats_relay").Logger(),
	}
}

func (r *NATSRelay) Name() string { return "nats" }

func (r *NATSRelay) Publish(_ context.Context, payload []byte) error {
	return r.conn.Publish(r.subject, payload)
}

func (r *NATSRelay) Subscribe(ctx context.Context, handle func(string, []byte)) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		handle(r.Name(), msg.Data)
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
		}
	}()
	return nil
}

// recentIDs remembers the last envelope ids seen so an event arriving over
// more than one relay is delivered once.
type recentIDs struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	next  int
}

func newRecentIDs(size int) *recentIDs {
	return &recentIDs{
		seen:  make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// add records id and reports whether it was not seen before.
func (r *recentIDs) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[id]; ok {
		return false
	}
	if evicted := r.order[r.next]; evicted != "" {
		delete(r.seen, evicted)
	}
	r.order[r.next] = id
	r.next = (r.next + 1) % len(r.order)
	r.seen[id] = struct{}{}
	return true
}
