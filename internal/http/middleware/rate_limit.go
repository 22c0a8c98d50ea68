package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
	// KeyFunc picks the bucket for a request. Defaults to the client IP.
	KeyFunc func(c *fiber.Ctx) string
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		KeyPrefix:   "linkvault:ratelimit",
	}
}

// IssueRateLimitConfig limits link issuance per client and resource.
func IssueRateLimitConfig(perMinute int) RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	cfg.MaxRequests = perMinute
	cfg.KeyPrefix = "linkvault:ratelimit:issue"
	cfg.KeyFunc = func(c *fiber.Ctx) string {
		return c.IP() + ":" + c.Params("id")
	}
	return cfg
}

// RateLimit creates a fixed-window rate limiting middleware using Redis.
// It fails open when Redis is unavailable.
func RateLimit(redisClient *redis.Client, config RateLimitConfig, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}

	return func(c *fiber.Ctx) error {
		if redisClient == nil || config.MaxRequests <= 0 {
			return c.Next()
		}

		ctx := c.UserContext()
		key := config.KeyPrefix + ":" + keyFunc(c)

		var incr *redis.IntCmd
		_, err := redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, config.Window)
			return nil
		})
		if err != nil {
			logger.Error("rate limit redis error", zap.Error(err))
			return c.Next()
		}
		count := incr.Val()

		remaining := config.MaxRequests - int(count)
		c.Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, remaining)))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(config.Window).Unix(), 10))

		if count > int64(config.MaxRequests) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
		}

		return c.Next()
	}
}
