package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/b0ase/treasury-backend/internal/http/dto"
)

// RateLimitMiddleware enforces a fixed-window per-path, per-IP limit backed
// by redis, so the cap holds across API replicas. Redis trouble fails open:
// a purchase mid-payment must not bounce off a limiter outage.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("treasury:rl:%s:%s", c.Path(), c.IP())

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:     "rate limit exceeded",
				RequestID: RequestID(c),
			})
		}

		return c.Next()
	}
}
