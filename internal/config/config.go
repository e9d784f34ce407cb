package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the chat service.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseURL         string
	DBConnectAttempts   int
	RedisURL            string
	NATSURL             string
	ChannelBase         string
	JWTSecret           string
	EncryptionKey       string
	RequestTimeout      time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	OutboundQueueSize   int
	FanoutConcurrency   int
	NotificationTimeout time.Duration
	UnreadCacheTTL      time.Duration
	MessageRateLimit    int
	MessageRateWindow   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Chat API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("db.connect_attempts", 5)
	v.SetDefault("channel.base", "gema:chat")
	v.SetDefault("request.timeout", "5s")
	v.SetDefault("heartbeat.interval", "25s")
	v.SetDefault("heartbeat.timeout", "60s")
	v.SetDefault("outbound.queue_size", 64)
	v.SetDefault("fanout.concurrency", 8)
	v.SetDefault("notification.timeout", "5s")
	v.SetDefault("unread.cache_ttl", "30s")
	v.SetDefault("message.rate_limit", 30)
	v.SetDefault("message.rate_window", "10s")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		DBConnectAttempts: v.GetInt("db.connect_attempts"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		ChannelBase:       v.GetString("channel.base"),
		JWTSecret:         v.GetString("jwt.secret"),
		EncryptionKey:     v.GetString("encryption.key"),
		OutboundQueueSize: v.GetInt("outbound.queue_size"),
		FanoutConcurrency: v.GetInt("fanout.concurrency"),
		MessageRateLimit:  v.GetInt("message.rate_limit"),
	}
	durations["request.timeout"] = &cfg.RequestTimeout
	durations["heartbeat.interval"] = &cfg.HeartbeatInterval
	durations["heartbeat.timeout"] = &cfg.HeartbeatTimeout
	durations["notification.timeout"] = &cfg.NotificationTimeout
	durations["unread.cache_ttl"] = &cfg.UnreadCacheTTL
	durations["message.rate_window"] = &cfg.MessageRateWindow

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		*target = parsed
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return Config{}, fmt.Errorf("heartbeat timeout must exceed heartbeat interval")
	}

	if cfg.DBConnectAttempts <= 0 {
		cfg.DBConnectAttempts = 1
	}

	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 64
	}

	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = 8
	}

	if cfg.MessageRateLimit <= 0 {
		cfg.MessageRateLimit = 30
	}

	return cfg, nil
}
