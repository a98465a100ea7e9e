package handler

import (
	"errors"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/adscript/api/internal/apperr"
	"github.com/adscript/api/pkg/response"
)

// respondError renders a service error in the API error envelope
func respondError(c *fiber.Ctx, err error) error {
	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return response.NotFound(c, message)
	case apperr.KindInvalidArgument:
		var details interface{}
		if field := apperr.FieldOf(err); field != "" {
			details = fiber.Map{"field": field}
		}
		return response.ValidationError(c, message, details)
	case apperr.KindPreconditionFailed:
		return response.PreconditionFailed(c, message)
	case apperr.KindExternal:
		log.Printf("Upstream failure on %s %s: %v", c.Method(), c.Path(), err)
		return response.UpstreamError(c, message)
	default:
		log.Printf("Request %s %s failed: %v", c.Method(), c.Path(), err)
		return response.ServiceError(c, "Internal server error")
	}
}

// projectID parses the :projectId route parameter
func projectID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("projectId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("projectId", "Project ID must be a positive integer")
	}
	return id, nil
}

// blockIndex parses the :index route parameter
func blockIndex(c *fiber.Ctx) (int, error) {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return 0, apperr.Invalid("index", "Block index must be integer")
	}
	return index, nil
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
