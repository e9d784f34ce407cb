package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// RateLimit throttles a route group per authenticated user, falling back to the
// client IP before authentication has run. Rejections use the standard error
// envelope; the limiter has already set Retry-After to the time left in the window.
func RateLimit(scope string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 30
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
				return scope + ":user:" + userID
			}
			return scope + ":ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Fail(c, fiber.StatusTooManyRequests, "rate limit exceeded", fiber.Map{
				"scope": scope,
				"limit": max,
			})
		},
	})
}
