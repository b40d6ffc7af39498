package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smr/internal/errs"
)

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestSendErrorResponse(t *testing.T) {
	app := fiber.New()
	app.Get("/test-error", func(c *fiber.Ctx) error {
		return SendErrorResponse(c, 400, "Bad Request", "Invalid input")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test-error", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	body := decodeError(t, resp.Body)
	assert.Equal(t, "Bad Request", body.Error)
	assert.Equal(t, "Invalid input", body.Details)
}

func TestSendValidationError(t *testing.T) {
	app := fiber.New()
	app.Get("/test", func(c *fiber.Ctx) error {
		return SendValidationError(c, "artist_id", "must be positive")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	assert.Equal(t, 422, resp.StatusCode)
	assert.Equal(t, "artist_id: must be positive", decodeError(t, resp.Body).Details)
}

func TestSendPipelineError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
		title  string
	}{
		{"duplicate", errs.DuplicateUpload("intake", 3, "abc"), 409, "duplicate", "Duplicate upload"},
		{"threshold", errs.ThresholdNotMet("finalize", 66.7, 95), 422, "threshold", "Linkage threshold not met"},
		{"already finalized", errs.AlreadyFinalized("finalize", 9), 409, "already_finalized", "Upload already finalized"},
		{"database", errs.Database("repo", errors.New("conn refused")), 500, "database", "Internal server error"},
		{"plain", errors.New("boom"), 500, "", "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/test", func(c *fiber.Ctx) error {
				return SendPipelineError(c, tt.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeError(t, resp.Body)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.title, body.Error)
		})
	}
}

func TestSendPipelineError_DoesNotLeakDatabaseDetail(t *testing.T) {
	app := fiber.New()
	app.Get("/test", func(c *fiber.Ctx) error {
		return SendPipelineError(c, errs.Database("repo", errors.New("password authentication failed")))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	assert.Empty(t, decodeError(t, resp.Body).Details)
}

func TestSendPipelineError_CarriesUploadID(t *testing.T) {
	app := fiber.New()
	app.Get("/test", func(c *fiber.Ctx) error {
		return SendPipelineError(c, errs.SchemaDetection("staging.Parse", []string{"artist"}).WithUpload(12))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	assert.Equal(t, 422, resp.StatusCode)

	body := decodeError(t, resp.Body)
	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(12), data["upload_id"])
}
