package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"smr/internal/logging"
	"smr/internal/services"
	"smr/internal/utils"
)

// AuthMiddleware provides authentication for API endpoints
type AuthMiddleware struct {
	authService *services.AuthService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authService *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// JWTProtected requires a valid Bearer access token and stores the user in locals
func (m *AuthMiddleware) JWTProtected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return utils.SendUnauthorizedError(c, "Authentication required")
		}

		user, err := m.authService.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			return utils.SendUnauthorizedError(c, "Invalid token")
		}

		c.Locals("user_id", user.ID)
		c.Locals("username", user.Username)
		c.Locals("is_admin", user.IsAdmin)
		c.SetUserContext(logging.WithUser(c.UserContext(), user.Username))

		return c.Next()
	}
}

// AdminOnly middleware restricts access to admin users only
func (m *AuthMiddleware) AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isAdmin, ok := c.Locals("is_admin").(bool)
		if !ok || !isAdmin {
			return utils.SendForbiddenError(c, "Admin access required")
		}

		return c.Next()
	}
}

// GetUserFromContext retrieves user information from the request context
func GetUserFromContext(c *fiber.Ctx) (*services.AuthUser, bool) {
	userID, ok1 := c.Locals("user_id").(int64)
	username, ok2 := c.Locals("username").(string)
	isAdmin, ok3 := c.Locals("is_admin").(bool)

	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}

	return &services.AuthUser{
		ID:       userID,
		Username: username,
		IsAdmin:  isAdmin,
	}, true
}
