package utils

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"smr/internal/errs"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details string      `json:"details,omitempty"`
	Code    int         `json:"code,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SendErrorResponse sends a standardized error response
func SendErrorResponse(c *fiber.Ctx, httpCode int, message string, details string) error {
	return c.Status(httpCode).JSON(ErrorResponse{
		Error:   message,
		Details: details,
		Code:    httpCode,
	})
}

// SendValidationError sends a validation error response
func SendValidationError(c *fiber.Ctx, field string, message string) error {
	return c.Status(http.StatusUnprocessableEntity).JSON(ErrorResponse{
		Error:   "Validation failed",
		Details: field + ": " + message,
		Code:    http.StatusUnprocessableEntity,
		Kind:    string(errs.KindValidation),
	})
}

// SendNotFoundError sends a not found error response
func SendNotFoundError(c *fiber.Ctx, resource string) error {
	return c.Status(http.StatusNotFound).JSON(ErrorResponse{
		Error:   "Resource not found",
		Details: resource + " does not exist",
		Code:    http.StatusNotFound,
		Kind:    string(errs.KindNotFound),
	})
}

// SendUnauthorizedError sends an unauthorized error response
func SendUnauthorizedError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusUnauthorized).JSON(ErrorResponse{
		Error:   "Unauthorized",
		Details: message,
		Code:    http.StatusUnauthorized,
	})
}

// SendForbiddenError sends a forbidden error response
func SendForbiddenError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusForbidden).JSON(ErrorResponse{
		Error:   "Forbidden",
		Details: message,
		Code:    http.StatusForbidden,
	})
}

// SendInternalServerError sends an internal server error response
func SendInternalServerError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "Internal server error",
		Details: message,
		Code:    http.StatusInternalServerError,
	})
}

// pipelineTitles are the user-facing headlines per error kind
var pipelineTitles = map[errs.Kind]string{
	errs.KindValidation:       "Validation failed",
	errs.KindDuplicate:        "Duplicate upload",
	errs.KindSchema:           "Report schema not recognized",
	errs.KindThreshold:        "Linkage threshold not met",
	errs.KindAlreadyFinalized: "Upload already finalized",
	errs.KindState:            "Operation not allowed in current state",
	errs.KindNotFound:         "Resource not found",
	errs.KindEmptyReport:      "Report has no rows",
}

// SendPipelineError maps a pipeline error to its HTTP status and response body.
// Kinds without a user-facing title are reported as internal errors without detail.
func SendPipelineError(c *fiber.Ctx, err error) error {
	code := errs.HTTPStatus(err)
	e, ok := errs.As(err)
	if !ok {
		return SendInternalServerError(c, "unexpected error")
	}

	title, known := pipelineTitles[e.Kind]
	if !known {
		return c.Status(code).JSON(ErrorResponse{
			Error: "Internal server error",
			Code:  code,
			Kind:  string(e.Kind),
		})
	}

	resp := ErrorResponse{
		Error:   title,
		Details: e.Error(),
		Code:    code,
		Kind:    string(e.Kind),
	}
	data := make(map[string]interface{}, len(e.Meta)+1)
	for k, v := range e.Meta {
		data[k] = v
	}
	if _, ok := data["upload_id"]; !ok && e.UploadID != 0 {
		data["upload_id"] = e.UploadID
	}
	if len(data) > 0 {
		resp.Data = data
	}
	return c.Status(code).JSON(resp)
}
