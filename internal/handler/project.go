package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/adscript/api/internal/middleware"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/service"
	"github.com/adscript/api/pkg/response"
)

type ProjectHandler struct {
	service   *service.ProjectService
	validator *validator.Validate
}

func NewProjectHandler(svc *service.ProjectService, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/projects
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	var req model.CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return respondError(c, err)
	}

	return response.Accepted(c, result)
}

// List handles GET /api/projects
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	projects, err := h.service.List(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, fiber.Map{"projects": projects})
}

// Status handles GET /api/projects/:projectId/status
func (h *ProjectHandler) Status(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.service.Status(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}

// Scenario handles GET /api/projects/:projectId/scenario
func (h *ProjectHandler) Scenario(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.service.Scenario(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}

// Images handles GET /api/projects/:projectId/images
func (h *ProjectHandler) Images(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.service.Images(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}
