package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/apperror"
	"github.com/noah-isme/gema-chat-api/internal/middleware"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "1"

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func unauthorized(c *fiber.Ctx) error {
	return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
}

// writeError maps the service error taxonomy onto HTTP. Membership and permission
// failures are reported as not found so callers cannot discover chats.
func writeError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var validationErrors validator.ValidationErrors
	var fieldErr *apperror.FieldError

	switch {
	case errors.As(err, &validationErrors):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(validationErrors))
	case errors.As(err, &fieldErr):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", map[string]string{fieldErr.Field: fieldErr.Reason})
	case errors.Is(err, apperror.ErrInvalidArgument):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case apperror.IsHidden(err):
		return utils.SendError(c, fiber.StatusNotFound, apperror.ErrNotFound.Error())
	case errors.Is(err, apperror.ErrConflict):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, apperror.ErrUnavailable):
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
		return utils.SendError(c, fiber.StatusServiceUnavailable, apperror.ErrUnavailable.Error())
	}

	requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details
}
