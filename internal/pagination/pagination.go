package pagination

import (
	"math"

	"github.com/gofiber/fiber/v2"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Metadata is returned alongside every paged listing
type Metadata struct {
	TotalCount  int64 `json:"total_count"`
	PageSize    int   `json:"page_size"`
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	HasPrevious bool  `json:"has_previous"`
	HasNext     bool  `json:"has_next"`
}

// Page is a resolved page request
type Page struct {
	Number int
	Size   int
}

// Offset is the row offset for the page
func (p Page) Offset() int {
	return CalculateOffset(p.Number, p.Size)
}

// Meta builds the response metadata for this page
func (p Page) Meta(total int64) Metadata {
	return Calculate(total, p.Number, p.Size)
}

// FromQuery reads page and page_size from the query string
func FromQuery(c *fiber.Ctx) Page {
	page, size := GetPaginationParams(c, 1, DefaultPageSize)
	return Page{Number: page, Size: size}
}

// GetPaginationParams extracts pagination parameters from Fiber context with default values
func GetPaginationParams(c *fiber.Ctx, defaultPage, defaultPageSize int) (page int, pageSize int) {
	page = c.QueryInt("page", defaultPage)
	pageSize = c.QueryInt("page_size", defaultPageSize)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return page, pageSize
}

// CalculateOffset calculates the offset for database queries based on page and page size
func CalculateOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return (page - 1) * pageSize
}

// Calculate calculates the complete pagination metadata for a given total count, page, and page size
func Calculate(totalCount int64, page, pageSize int) Metadata {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	totalPages := int(math.Ceil(float64(totalCount) / float64(pageSize)))
	if totalPages < 0 {
		totalPages = 0
	}

	currentPage := page
	if currentPage > totalPages && totalPages > 0 {
		currentPage = totalPages
	}

	hasPrevious := currentPage > 1
	hasNext := currentPage < totalPages

	if totalCount == 0 {
		hasPrevious = false
		hasNext = false
	}

	return Metadata{
		TotalCount:  totalCount,
		PageSize:    pageSize,
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		HasPrevious: hasPrevious,
		HasNext:     hasNext,
	}
}
