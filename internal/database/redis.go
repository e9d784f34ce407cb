package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPingTimeout = 2 * time.Second

// ConnectRedis opens the client backing the unread cache and the realtime relay.
// The URL is parsed once; only the ping is retried.
func ConnectRedis(url string, attempts int, logger zerolog.Logger) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url must not be empty")
	}
	if attempts <= 0 {
		attempts = 1
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	// Pub/sub holds one connection per relay subscription on top of the cache traffic.
	if options.PoolSize == 0 {
		options.PoolSize = 20
	}
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second

	client := redis.NewClient(options)

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1))
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Str("addr", options.Addr).Dur("retry_in", wait).Msg("redis not ready, retrying")
	}

	if err := backoff.RetryNotify(ping, policy, notify); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return client, nil
}
