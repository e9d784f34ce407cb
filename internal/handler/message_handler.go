package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// MessageHandler serves message history, sending and deletion.
type MessageHandler struct {
	messages service.MessageService
	unread   service.UnreadService
	sendGate fiber.Handler
	logger   zerolog.Logger
}

// NewMessageHandler creates a message handler. sendLimiter guards POST /messages
// and may be nil.
func NewMessageHandler(messages service.MessageService, unread service.UnreadService, sendLimiter fiber.Handler, logger zerolog.Logger) *MessageHandler {
	if sendLimiter == nil {
		sendLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &MessageHandler{
		messages: messages,
		unread:   unread,
		sendGate: sendLimiter,
		logger:   logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register binds message routes under the provided router group.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Get("/", h.history)
	router.Post("/", h.sendGate, h.send)
	router.Get("/unread", h.unreadSummary)
	router.Delete("/:id", h.delete)
}

func (h *MessageHandler) history(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	query := dto.MessageHistoryQuery{
		ChatID: strings.TrimSpace(c.Query("chat_id")),
		Before: strings.TrimSpace(c.Query("before")),
		Limit:  limit,
	}

	messages, meta, err := h.messages.List(requestContext(c), userID, query)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.OK(c, messages, "messages retrieved", meta)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var payload dto.MessageSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	message, err := h.messages.Send(requestContext(c), userID, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) unreadSummary(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	summary, err := h.unread.Summary(requestContext(c), userID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "unread summary", summary)
}

func (h *MessageHandler) delete(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	if err := h.messages.Delete(requestContext(c), userID, c.Params("id")); err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "message deleted", fiber.Map{"id": c.Params("id")})
}
