package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/config"
	"github.com/noah-isme/gema-chat-api/internal/crypto"
	"github.com/noah-isme/gema-chat-api/internal/database"
	"github.com/noah-isme/gema-chat-api/internal/handler"
	"github.com/noah-isme/gema-chat-api/internal/middleware"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
	"github.com/noah-isme/gema-chat-api/internal/repository"
	"github.com/noah-isme/gema-chat-api/internal/router"
	"github.com/noah-isme/gema-chat-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.DBConnectAttempts, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL, cfg.DBConnectAttempts, logger)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	codec, err := crypto.NewCodec(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("failed to initialise message codec: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	friendRepo := repository.NewFriendRepository(db)

	// Both relays may carry the same envelope; the gateway delivers each id once.
	relays := []realtime.Relay{
		realtime.NewRedisRelay(redisClient, cfg.ChannelBase+":events", logger),
	}
	if cfg.NATSURL != "" {
		natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
		relays = append(relays, realtime.NewNATSRelay(natsConn, strings.ReplaceAll(cfg.ChannelBase, ":", ".")+".events", logger))
	}

	registry := realtime.NewRegistry()
	gateway := realtime.NewGateway(realtime.Options{
		QueueSize:         cfg.OutboundQueueSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		ActionTimeout:     cfg.RequestTimeout,
		Cluster:           realtime.NewRedisPresence(redisClient, cfg.ChannelBase, 3*cfg.HeartbeatTimeout),
	}, registry, userRepo, logger, relays...)

	unreadService := service.NewUnreadService(messageRepo, redisClient, cfg.UnreadCacheTTL, logger)
	notificationService := service.NewNotificationService(notificationRepo, userRepo, gateway, validate, cfg.FanoutConcurrency, cfg.NotificationTimeout, logger)
	messageService := service.NewMessageService(messageRepo, chatRepo, userRepo, codec, unreadService, notificationService, gateway, validate, cfg.RequestTimeout, logger)
	chatService := service.NewChatService(chatRepo, messageRepo, userRepo, codec, unreadService, notificationService, gateway, validate, logger)
	friendService := service.NewFriendService(friendRepo, userRepo, notificationService, validate, logger)
	presenceService := service.NewPresenceService(registry, gateway, userRepo, validate, logger)

	gateway.SetActions(service.RealtimeActions{Messages: messageService, Chats: chatService})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gateway.Start(rootCtx); err != nil {
		log.Fatalf("failed to start realtime gateway: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         handler.NewChatHandler(chatService, messageService, unreadService, logger),
		MessageHandler:      handler.NewMessageHandler(messageService, unreadService, middleware.RateLimit("messages", cfg.MessageRateLimit, cfg.MessageRateWindow), logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger),
		FriendHandler:       handler.NewFriendHandler(friendService, logger),
		PresenceHandler:     handler.NewPresenceHandler(presenceService, logger),
		RealtimeHandler:     handler.NewRealtimeHandler(gateway, logger),
		HealthHandler:       handler.HealthCheck(cfg, gateway.NodeID(), dependencyChecks(db, redisClient)),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(rootCtx, app, gateway, notificationService, logger)
}

func dependencyChecks(db *gorm.DB, redisClient *redis.Client) map[string]handler.DependencyCheck {
	return map[string]handler.DependencyCheck{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
}

func waitForShutdown(rootCtx context.Context, app *fiber.App, gateway *realtime.Gateway, notifications service.NotificationService, logger zerolog.Logger) {
	<-rootCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gateway.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("realtime gateway shutdown incomplete")
	}
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	notifications.Wait()

	logger.Info().Msg("server stopped")
}
