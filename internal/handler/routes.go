package handler

import "github.com/gofiber/fiber/v2"

// Handlers groups the API handlers mounted under /api
type Handlers struct {
	Projects *ProjectHandler
	Scenario *ScenarioHandler
	Images   *ImageHandler
}

// Limits holds the rate limiting middleware of the generation endpoints
type Limits struct {
	Script fiber.Handler
	Image  fiber.Handler
}

func passThrough(c *fiber.Ctx) error {
	return c.Next()
}

// Mount registers the project routes on an authenticated router
func Mount(api fiber.Router, h Handlers, limits Limits) {
	if limits.Script == nil {
		limits.Script = passThrough
	}
	if limits.Image == nil {
		limits.Image = passThrough
	}

	projects := api.Group("/projects")
	projects.Post("/", limits.Script, h.Projects.Create)
	projects.Get("/", h.Projects.List)
	projects.Get("/:projectId/status", h.Projects.Status)
	projects.Get("/:projectId/images", h.Projects.Images)
	projects.Get("/:projectId/scenario", h.Projects.Scenario)
	projects.Put("/:projectId/scenario", h.Scenario.Replace)

	blocks := projects.Group("/:projectId/blocks")
	blocks.Post("/", h.Scenario.Insert)
	blocks.Post("/reorder", h.Scenario.Reorder)
	blocks.Post("/images", h.Images.Batch)
	blocks.Patch("/:index", h.Scenario.Update)
	blocks.Delete("/:index", h.Scenario.Delete)
	blocks.Post("/:index/image", limits.Image, h.Images.Generate)
	blocks.Post("/:index/image/edit", limits.Image, h.Images.Edit)
}
