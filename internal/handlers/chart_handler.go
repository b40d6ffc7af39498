package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"smr/internal/pagination"
	"smr/internal/repository"
	"smr/internal/utils"
)

// ChartHandler serves the downstream read contract. It only sees finalized uploads.
type ChartHandler struct {
	charts repository.ChartReader
}

// NewChartHandler creates a new chart handler
func NewChartHandler(charts repository.ChartReader) *ChartHandler {
	return &ChartHandler{charts: charts}
}

// List returns finalized uploads, most recently finalized first
func (h *ChartHandler) List(c *fiber.Ctx) error {
	page := pagination.FromQuery(c)

	uploads, total, err := h.charts.ListFinalized(c.UserContext(), page.Offset(), page.Size)
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to list charts")
	}

	return c.JSON(fiber.Map{
		"data":       uploads,
		"pagination": page.Meta(total),
	})
}

// Entries returns the ranked chart entries of one finalized upload with its audit record
func (h *ChartHandler) Entries(c *fiber.Ctx) error {
	id, ok := uploadIDParam(c, "upload_id")
	if !ok {
		return utils.SendValidationError(c, "upload_id", "must be a positive integer")
	}

	audit, err := h.charts.AuditFor(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return utils.SendNotFoundError(c, "finalized chart")
	}
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to load chart")
	}

	entries, err := h.charts.FinalizedEntries(c.UserContext(), id)
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to load chart entries")
	}
	if entries == nil {
		entries = []repository.ChartEntryView{}
	}

	return c.JSON(fiber.Map{
		"upload_id": id,
		"audit":     audit,
		"data":      entries,
	})
}
