package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/adscript/api/internal/middleware"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/service"
	"github.com/adscript/api/pkg/response"
)

// ScenarioHandler serves the structural block edits of a project's scenario
type ScenarioHandler struct {
	service   *service.ScenarioService
	validator *validator.Validate
}

func NewScenarioHandler(svc *service.ScenarioService, v *validator.Validate) *ScenarioHandler {
	return &ScenarioHandler{
		service:   svc,
		validator: v,
	}
}

// Replace handles PUT /api/projects/:projectId/scenario
func (h *ScenarioHandler) Replace(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req model.ReplaceScenarioRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Replace(c.Context(), middleware.GetUserID(c), id, &req)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}

// Insert handles POST /api/projects/:projectId/blocks?position=
func (h *ScenarioHandler) Insert(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}

	var position *int
	if raw := c.Query("position"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return response.ValidationError(c, "Position must be integer", fiber.Map{"field": "position"})
		}
		position = &p
	}

	var req model.BlockInput
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Insert(c.Context(), middleware.GetUserID(c), id, position, req)
	if err != nil {
		return respondError(c, err)
	}

	return response.Created(c, result)
}

// Update handles PATCH /api/projects/:projectId/blocks/:index
func (h *ScenarioHandler) Update(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}
	index, err := blockIndex(c)
	if err != nil {
		return respondError(c, err)
	}

	var req model.UpdateBlockRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	result, err := h.service.Update(c.Context(), middleware.GetUserID(c), id, index, &req)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}

// Delete handles DELETE /api/projects/:projectId/blocks/:index
func (h *ScenarioHandler) Delete(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}
	index, err := blockIndex(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.service.Delete(c.Context(), middleware.GetUserID(c), id, index)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}

// Reorder handles POST /api/projects/:projectId/blocks/reorder
func (h *ScenarioHandler) Reorder(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req model.ReorderBlocksRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Reorder(c.Context(), middleware.GetUserID(c), id, req.NewOrder)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}
