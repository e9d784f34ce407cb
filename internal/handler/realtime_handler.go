package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/middleware"
	"github.com/noah-isme/gema-chat-api/internal/realtime"
)

// RealtimeHandler upgrades authenticated requests to websocket connections served
// by the realtime gateway.
type RealtimeHandler struct {
	gateway *realtime.Gateway
	logger  zerolog.Logger
}

// NewRealtimeHandler creates a realtime handler.
func NewRealtimeHandler(gateway *realtime.Gateway, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		gateway: gateway,
		logger:  logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if userIDFromContext(c) == "" {
			return unauthorized(c)
		}
		c.Locals("correlation_id", middleware.GetCorrelationID(c))
		return c.Next()
	})

	router.Get("/ws", websocket.New(h.serve))
}

func (h *RealtimeHandler) serve(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	correlation, _ := conn.Locals("correlation_id").(string)
	ctx := middleware.ContextWithCorrelation(context.Background(), correlation)

	if err := h.gateway.Serve(ctx, userID, conn); err != nil {
		if errors.Is(err, realtime.ErrGatewayClosed) {
			h.logger.Debug().Str("user_id", userID).Msg("rejected websocket during shutdown")
			return
		}
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("realtime connection failed")
	}
}
