package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/adscript/api/internal/middleware"
	"github.com/adscript/api/internal/model"
	"github.com/adscript/api/internal/service"
	"github.com/adscript/api/pkg/response"
)

type ImageHandler struct {
	service   *service.ImageService
	validator *validator.Validate
}

func NewImageHandler(svc *service.ImageService, v *validator.Validate) *ImageHandler {
	return &ImageHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/projects/:projectId/blocks/:index/image
func (h *ImageHandler) Generate(c *fiber.Ctx) error {
	return h.request(c, model.ImageModeGenerate)
}

// Edit handles POST /api/projects/:projectId/blocks/:index/image/edit
func (h *ImageHandler) Edit(c *fiber.Ctx) error {
	return h.request(c, model.ImageModeEdit)
}

func (h *ImageHandler) request(c *fiber.Ctx, mode model.ImageMode) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}
	index, err := blockIndex(c)
	if err != nil {
		return respondError(c, err)
	}

	// the body is optional
	var req model.ImageRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validator.Struct(&req); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
	}

	result, err := h.service.Request(c.Context(), middleware.GetUserID(c), id, index, mode, &req)
	if err != nil {
		return respondError(c, err)
	}

	return response.Accepted(c, result)
}

// Batch handles POST /api/projects/:projectId/blocks/images
func (h *ImageHandler) Batch(c *fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req model.BatchImagesRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Batch(c.Context(), middleware.GetUserID(c), id, req.BlockIndices)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}
