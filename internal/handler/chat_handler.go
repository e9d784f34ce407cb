package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// ChatHandler exposes chat lifecycle, membership and per-chat read state.
type ChatHandler struct {
	chats    service.ChatService
	messages service.MessageService
	unread   service.UnreadService
	logger   zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(chats service.ChatService, messages service.MessageService, unread service.UnreadService, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		chats:    chats,
		messages: messages,
		unread:   unread,
		logger:   logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/", h.create)
	router.Get("/:chatId", h.get)
	router.Post("/:chatId/leave", h.leave)
	router.Post("/:chatId/members", h.addMembers)
	router.Patch("/:chatId/members/:userId", h.updateMemberRole)
	router.Delete("/:chatId/members/:userId", h.removeMember)
	router.Get("/:chatId/unread", h.unreadCount)
	router.Post("/:chatId/read", h.markRead)
}

func (h *ChatHandler) list(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	chats, err := h.chats.List(requestContext(c), userID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.OK(c, chats, "chats retrieved", fiber.Map{"count": len(chats)})
}

func (h *ChatHandler) create(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var payload dto.ChatCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, created, err := h.chats.CreateOrReuse(requestContext(c), userID, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if !created {
		return utils.SendSuccess(c, "existing chat returned", chat)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "chat created", chat)
}

func (h *ChatHandler) get(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	chat, err := h.chats.Get(requestContext(c), userID, c.Params("chatId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "chat retrieved", chat)
}

func (h *ChatHandler) leave(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	result, err := h.chats.Leave(requestContext(c), userID, c.Params("chatId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "left chat", result)
}

func (h *ChatHandler) addMembers(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var payload dto.ChatMembersAddRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.chats.AddMembers(requestContext(c), userID, c.Params("chatId"), payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "members added", chat)
}

func (h *ChatHandler) updateMemberRole(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var payload dto.ChatMemberRoleRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.chats.UpdateMemberRole(requestContext(c), userID, c.Params("chatId"), c.Params("userId"), payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "member role updated", chat)
}

func (h *ChatHandler) removeMember(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	chat, err := h.chats.RemoveMember(requestContext(c), userID, c.Params("chatId"), c.Params("userId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "member removed", chat)
}

func (h *ChatHandler) unreadCount(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	unread, err := h.unread.ChatUnread(requestContext(c), userID, c.Params("chatId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "unread count", unread)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	receipt, err := h.messages.MarkRead(requestContext(c), userID, c.Params("chatId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "messages marked as read", receipt)
}
