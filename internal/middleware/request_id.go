package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"smr/internal/logging"
)

// RequestID assigns an X-Request-ID and carries it into the request context
// so stage events logged by services can be correlated with the request.
func RequestID() fiber.Handler {
	assign := requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: "request_id",
	})
	return func(c *fiber.Ctx) error {
		return assign(c)
	}
}

// RequestContext copies the request id into the user context. It must run after RequestID.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, ok := c.Locals("request_id").(string); ok && id != "" {
			c.SetUserContext(logging.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	}
}
