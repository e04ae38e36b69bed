package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

// RateLimit throttles session lifecycle calls per user. Frame ingestion is
// limited per session inside the ingestion service instead.
func RateLimit(scope string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}
	retryAfter := strconv.Itoa(int((window + time.Second - 1) / time.Second))

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, _ := c.Locals("user_id").(string); userID != "" {
				return scope + ":user:" + userID
			}
			return scope + ":ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return utils.SendErrorCode(c, fiber.StatusTooManyRequests, dto.ErrorCodeRateLimit, "too many requests")
		},
	})
}
