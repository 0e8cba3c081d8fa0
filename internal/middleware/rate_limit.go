package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Minute

// RateLimit caps state-changing requests per client address and route using a
// fixed one-minute window in Redis. Redis errors let the request through; the
// idempotency layer already fails closed when the cache is unhealthy.
func RateLimit(cache redis.Cmdable, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx) error {
		if cache == nil || maxPerMin <= 0 {
			return c.Next()
		}

		window := time.Now().Unix() / int64(rateLimitWindow.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%s:%d", c.Route().Path, c.IP(), window)

		var incr *redis.IntCmd
		_, err := cache.TxPipelined(c.UserContext(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(c.UserContext(), key)
			pipe.Expire(c.UserContext(), key, rateLimitWindow)
			return nil
		})
		if err != nil {
			logger.WarnContext(c.UserContext(), "rate limit check skipped", slog.String("error", err.Error()))
			return c.Next()
		}

		count := incr.Val()
		remaining := int64(maxPerMin) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(maxPerMin))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(rateLimitWindow.Seconds())))
			return WriteError(c, http.StatusTooManyRequests, "rate_limited", "too many requests, try again later")
		}
		return c.Next()
	}
}
