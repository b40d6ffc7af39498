package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"smr/internal/repository"
	"smr/internal/utils"
)

// ArtistHandler lets reviewers look up canonical artists
type ArtistHandler struct {
	artists repository.ArtistRepository
}

// NewArtistHandler creates a new artist handler
func NewArtistHandler(artists repository.ArtistRepository) *ArtistHandler {
	return &ArtistHandler{artists: artists}
}

// Search finds artists whose normalized name contains q
func (h *ArtistHandler) Search(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return utils.SendValidationError(c, "q", "a search term is required")
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	artists, err := h.artists.Search(c.UserContext(), q, limit)
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to search artists")
	}

	return c.JSON(fiber.Map{"data": artists})
}
