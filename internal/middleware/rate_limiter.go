package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"golang.org/x/time/rate"

	"smr/internal/config"
)

// NewCustomRateLimiter creates a per-IP fixed window limiter
func NewCustomRateLimiter(limit int, window time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"message":     message,
				"retry_after": window.Seconds(),
			})
		},
	})
}

// NewAuthRateLimiter limits login attempts
func NewAuthRateLimiter(cfg config.RateLimitConfig) fiber.Handler {
	return NewCustomRateLimiter(cfg.AuthLimit, cfg.AuthWindow,
		"Too many authentication attempts. Please try again later.")
}

// NewUploadRateLimiter limits report submissions per authenticated user
func NewUploadRateLimiter(cfg config.RateLimitConfig) fiber.Handler {
	return RateLimitByUser(cfg.UploadLimit, cfg.UploadWindow)
}

// RateLimitByUser applies a token bucket per user, falling back to the client
// IP for unauthenticated requests. Buckets idle for ten windows are dropped.
func RateLimitByUser(requestsPerWindow int, window time.Duration) fiber.Handler {
	if requestsPerWindow <= 0 {
		requestsPerWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	type bucket struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu      sync.Mutex
		buckets = make(map[string]*bucket)
		swept   = time.Now()
	)
	every := rate.Every(window / time.Duration(requestsPerWindow))

	return func(c *fiber.Ctx) error {
		key := c.IP()
		if user, ok := GetUserFromContext(c); ok && user.ID != 0 {
			key = "u:" + strconv.FormatInt(user.ID, 10)
		}

		now := time.Now()
		mu.Lock()
		if now.Sub(swept) > window {
			for k, b := range buckets {
				if now.Sub(b.lastSeen) > 10*window {
					delete(buckets, k)
				}
			}
			swept = now
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(every, requestsPerWindow)}
			buckets[key] = b
		}
		b.lastSeen = now
		allowed := b.limiter.AllowN(now, 1)
		mu.Unlock()

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"message":     "Too many requests. Please try again later.",
				"retry_after": window.Seconds(),
			})
		}

		return c.Next()
	}
}
