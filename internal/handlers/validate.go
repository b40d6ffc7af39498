package handlers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"smr/internal/utils"
)

var validate = validator.New()

// bindJSON parses the body into dst and validates its struct tags. When it
// returns false the error response has already been written.
func bindJSON(c *fiber.Ctx, dst interface{}) (bool, error) {
	if err := c.BodyParser(dst); err != nil {
		return false, utils.SendErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return false, utils.SendValidationError(c, "body", err.Error())
		}
		fields := make(map[string]string, len(verrs))
		names := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			name := jsonName(fe.Field())
			fields[name] = fe.Tag()
			names = append(names, name)
		}
		return false, c.Status(fiber.StatusUnprocessableEntity).JSON(utils.ErrorResponse{
			Error:   "Validation failed",
			Details: "invalid fields: " + strings.Join(names, ", "),
			Code:    fiber.StatusUnprocessableEntity,
			Kind:    "validation",
			Data:    fields,
		})
	}
	return true, nil
}

// jsonName converts a Go field name like SubmittedName into submitted_name
func jsonName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// uploadIDParam reads the :id route parameter
func uploadIDParam(c *fiber.Ctx, name string) (int64, bool) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}
