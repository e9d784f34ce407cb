package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// PresenceHandler serves presence lookups and HTTP status changes.
type PresenceHandler struct {
	service service.PresenceService
	logger  zerolog.Logger
}

// NewPresenceHandler constructs a presence handler.
func NewPresenceHandler(service service.PresenceService, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{
		service: service,
		logger:  logger.With().Str("component", "presence_handler").Logger(),
	}
}

// Register binds presence routes under the provided router group.
func (h *PresenceHandler) Register(router fiber.Router) {
	router.Get("/", h.get)
	router.Put("/status", h.updateStatus)
}

func (h *PresenceHandler) get(c *fiber.Ctx) error {
	if userIDFromContext(c) == "" {
		return unauthorized(c)
	}

	presence, err := h.service.Get(requestContext(c), splitAndTrim(c.Query("user_ids")))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "presence retrieved", presence)
}

func (h *PresenceHandler) updateStatus(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var payload dto.PresenceStatusRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	presence, err := h.service.UpdateStatus(requestContext(c), userID, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "status updated", presence)
}
