package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// NotificationHandler manages the caller's notification inbox. Live delivery
// happens over the realtime gateway.
type NotificationHandler struct {
	service service.NotificationService
	logger  zerolog.Logger
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(service service.NotificationService, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("component", "notification_handler").Logger(),
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Put("/read", h.markMany)
	router.Patch("/:id/read", h.markRead)
	router.Delete("/", h.delete)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	query := dto.NotificationListQuery{Limit: limit, Offset: offset}
	if raw := c.Query("unread_only"); raw != "" {
		unreadOnly, err := strconv.ParseBool(raw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid unread_only")
		}
		query.UnreadOnly = unreadOnly
	}

	list, err := h.service.List(requestContext(c), userID, query)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.OK(c, list.Items, "notifications", list.Meta)
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	notification, err := h.service.MarkRead(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notification marked as read", notification)
}

func (h *NotificationHandler) markMany(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var payload dto.NotificationsMarkRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.MarkMany(requestContext(c), userID, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications marked as read", result)
}

func (h *NotificationHandler) delete(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var payload dto.NotificationsDeleteRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Delete(requestContext(c), userID, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications deleted", result)
}
