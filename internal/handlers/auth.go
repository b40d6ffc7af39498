package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"smr/internal/services"
	"smr/internal/utils"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	authService *services.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Login handles user login requests
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	authToken, user, err := h.authService.Login(c.UserContext(), req.Username, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		return utils.SendUnauthorizedError(c, "Invalid credentials")
	}
	if err != nil {
		return utils.SendInternalServerError(c, "Login failed")
	}

	return c.JSON(fiber.Map{
		"access_token":  authToken.AccessToken,
		"refresh_token": authToken.RefreshToken,
		"expires_in":    authToken.ExpiresIn,
		"user": fiber.Map{
			"id":       user.ID,
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
	})
}

// Refresh handles token refresh requests
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	authToken, err := h.authService.RefreshTokens(c.UserContext(), req.RefreshToken)
	if err != nil {
		return utils.SendUnauthorizedError(c, "Invalid refresh token")
	}

	return c.JSON(authToken)
}
