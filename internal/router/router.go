package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-chat-api/internal/config"
	"github.com/noah-isme/gema-chat-api/internal/handler"
	"github.com/noah-isme/gema-chat-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	MessageHandler      *handler.MessageHandler
	NotificationHandler *handler.NotificationHandler
	FriendHandler       *handler.FriendHandler
	PresenceHandler     *handler.PresenceHandler
	RealtimeHandler     *handler.RealtimeHandler
	HealthHandler       fiber.Handler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	health := deps.HealthHandler
	if health == nil {
		health = handler.HealthCheck(cfg, "", nil)
	}
	app.Get("/health", health)
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	}, jwtMiddleware)

	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(api.Group("/chats"))
	}
	if deps.MessageHandler != nil {
		deps.MessageHandler.Register(api.Group("/messages"))
	}
	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications"))
	}
	if deps.FriendHandler != nil {
		deps.FriendHandler.Register(api.Group("/friends"))
	}
	if deps.PresenceHandler != nil {
		deps.PresenceHandler.Register(api.Group("/presence"))
	}
	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.Register(api.Group("/realtime"))
	}
}
