package handlers

import (
	"github.com/gofiber/fiber/v2"

	"smr/internal/health"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	checker *health.Checker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// HealthCheck handles the health check endpoint at /healthz
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	report := h.checker.Check(c.UserContext())

	c.Set(fiber.HeaderCacheControl, "no-store")
	if !report.Healthy() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}
