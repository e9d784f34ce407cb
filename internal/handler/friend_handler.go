package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// FriendHandler exposes the friend request workflow.
type FriendHandler struct {
	service service.FriendService
	logger  zerolog.Logger
}

// NewFriendHandler constructs a friend handler.
func NewFriendHandler(service service.FriendService, logger zerolog.Logger) *FriendHandler {
	return &FriendHandler{
		service: service,
		logger:  logger.With().Str("component", "friend_handler").Logger(),
	}
}

// Register binds friend routes under the provided router group.
func (h *FriendHandler) Register(router fiber.Router) {
	router.Post("/requests", h.send)
	router.Post("/requests/:id/accept", h.accept)
	router.Post("/requests/:id/reject", h.reject)
}

func (h *FriendHandler) send(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var payload dto.FriendRequestCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	request, err := h.service.SendRequest(requestContext(c), userID, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "friend request sent", request)
}

func (h *FriendHandler) accept(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	resolution, err := h.service.Accept(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "friend request accepted", resolution)
}

func (h *FriendHandler) reject(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	resolution, err := h.service.Reject(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "friend request rejected", resolution)
}
