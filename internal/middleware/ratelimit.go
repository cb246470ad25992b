package middleware

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sol1corejz/affiliate-ledger/internal/logger"
	"go.uber.org/zap"
)

const (
	rateLimitPrefix = "ledger:rate_limit"
	rateLimitWindow = time.Minute
)

// Window is a caller's position in the current rate-limit window.
type Window struct {
	Hits    int64
	ResetIn time.Duration
}

// Limiter counts hits against key within a fixed window.
type Limiter interface {
	Hit(ctx context.Context, key string, window time.Duration) (Window, error)
}

// RedisLimiter keeps one counter per key in Redis, so every replica
// shares the same budget.
type RedisLimiter struct {
	client redis.UniversalClient
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Hit seeds the counter with the window as its TTL when the key is new,
// then increments it. INCR keeps the TTL, so the window never slides.
func (r *RedisLimiter) Hit(ctx context.Context, key string, window time.Duration) (Window, error) {
	if r == nil || r.client == nil {
		return Window{}, nil
	}

	var (
		hits *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, window)
		hits = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return Window{}, err
	}

	resetIn := ttl.Val()
	if resetIn <= 0 {
		resetIn = window
	}
	return Window{Hits: hits.Val(), ResetIn: resetIn}, nil
}

// RateLimit allows limit requests per minute per caller and scope. It must
// run after AuthMiddleware; anonymous callers are keyed by IP. Limiter
// errors let the request through.
func RateLimit(limiter Limiter, scope string, limit int) fiber.Handler {
	scope = strings.Trim(strings.TrimSpace(scope), ":")

	return func(c *fiber.Ctx) error {
		if limiter == nil || limit <= 0 || scope == "" {
			return c.Next()
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
		defer cancel()

		w, err := limiter.Hit(ctx, rateLimitKey(c, scope), rateLimitWindow)
		if err != nil {
			logger.Log.Warn("Rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			return c.Next()
		}

		remaining := int64(limit) - w.Hits
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if w.Hits > int64(limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(w.ResetIn)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests",
			})
		}
		return c.Next()
	}
}

func rateLimitKey(c *fiber.Ctx, scope string) string {
	if identity, ok := IdentityFrom(c); ok {
		return rateLimitPrefix + ":" + scope + ":user:" + identity.UserID.String()
	}
	return rateLimitPrefix + ":" + scope + ":ip:" + c.IP()
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
