package web

import "github.com/gofiber/fiber/v3"

// Register mounts the API on router. Everything but /health requires a tenant.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	router.Post("/events", RequireTenant, h.IngestEvent)
	router.Get("/executions/:id", RequireTenant, h.GetExecution)

	w := router.Group("/workflows", RequireTenant)
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/import", h.ImportWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id/graph", h.UpdateWorkflowGraph)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/pause", h.PauseWorkflow)
	w.Post("/:id/archive", h.ArchiveWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)
	w.Get("/:id/export", h.ExportWorkflow)
}
