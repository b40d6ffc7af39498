package handlers

import (
	"github.com/gofiber/fiber/v2"

	"smr/internal/config"
	"smr/internal/middleware"
)

// Handlers groups every HTTP handler of the API. DLQ is nil when no task
// queue is configured.
type Handlers struct {
	Auth    *AuthHandler
	Uploads *UploadHandler
	Charts  *ChartHandler
	Artists *ArtistHandler
	Health  *HealthHandler
	Metrics *MetricsHandler
	DLQ     *DLQHandler
}

// RegisterRoutes mounts the API on app
func RegisterRoutes(app *fiber.App, h *Handlers, auth *middleware.AuthMiddleware, limits config.RateLimitConfig) {
	if h.Health != nil {
		app.Get("/healthz", h.Health.HealthCheck)
	}
	if h.Metrics != nil {
		app.Get("/metrics", h.Metrics.Metrics())
	}

	api := app.Group("/api/v1")

	authGroup := api.Group("/auth", middleware.NewAuthRateLimiter(limits))
	authGroup.Post("/login", h.Auth.Login)
	authGroup.Post("/refresh", h.Auth.Refresh)

	protected := api.Group("", auth.JWTProtected())

	uploads := protected.Group("/uploads")
	uploads.Post("/", middleware.NewUploadRateLimiter(limits), h.Uploads.Submit)
	uploads.Get("/", h.Uploads.List)
	uploads.Get("/:id", h.Uploads.Get)
	uploads.Get("/:id/rows", h.Uploads.Rows)
	uploads.Get("/:id/unmatched", h.Uploads.Unmatched)
	uploads.Post("/:id/mappings", h.Uploads.Map)
	uploads.Get("/:id/gate", h.Uploads.Gate)
	uploads.Post("/:id/finalize", h.Uploads.Finalize)
	uploads.Post("/:id/reject", auth.AdminOnly(), h.Uploads.Reject)
	uploads.Get("/:id/events", h.Uploads.Events)

	charts := protected.Group("/charts")
	charts.Get("/", h.Charts.List)
	charts.Get("/:upload_id/entries", h.Charts.Entries)

	protected.Get("/artists", h.Artists.Search)

	if h.DLQ != nil {
		dlq := protected.Group("/admin/dlq", auth.AdminOnly())
		dlq.Get("/", h.DLQ.GetDLQItems)
		dlq.Get("/:queue/:id", h.DLQ.GetTask)
		dlq.Post("/requeue", h.DLQ.RequeueDLQItems)
		dlq.Post("/purge", h.DLQ.PurgeDLQItems)
	}
}
