// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/engageflow/pkg/ingest"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/registry"
	"github.com/dukex/engageflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type tenantKey struct{}

var errInvalidJSON = errors.New("invalid JSON format")

// Ingester accepts external events into the event log.
type Ingester interface {
	Ingest(ctx context.Context, event ingest.Event) (*models.EventLog, error)
}

type APIHandlers struct {
	workflowService *services.Workflow
	transferService *services.Transfer
	ingester        Ingester
	validator       *validator.Validate
	registry        *registry.Registry
	logger          *slog.Logger
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	transferService *services.Transfer,
	ingester Ingester,
	validator *validator.Validate,
	registry *registry.Registry,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		transferService: transferService,
		ingester:        ingester,
		validator:       validator,
		registry:        registry,
		logger:          logger.With("module", "web"),
	}
}

// RequireTenant rejects requests without a tenant header.
func RequireTenant(c fiber.Ctx) error {
	tenant := strings.TrimSpace(c.Get(TenantHeader))
	if tenant == "" {
		return badRequest(c, TenantHeader+" header is required")
	}

	c.Locals(tenantKey{}, tenant)

	return c.Next()
}

func tenantOf(c fiber.Ctx) string {
	tenant, _ := c.Locals(tenantKey{}).(string)

	return tenant
}

// IngestEvent accepts an event. Only malformed requests are rejected; a
// duplicate or a failure after validation answers 202 with accepted=false.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.TenantID != "" && req.TenantID != tenantOf(c) {
		return badRequest(c, "tenant_id does not match the "+TenantHeader+" header")
	}

	eventLog, err := h.ingester.Ingest(c.Context(), req.ToEvent(tenantOf(c)))
	if err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			return badRequest(c, err.Error())
		}

		if ingest.IsDuplicate(err) {
			h.logger.InfoContext(c.Context(), "Duplicate event", "event_id", req.EventID)
		} else {
			h.logger.ErrorContext(c.Context(), "Failed to ingest event", "event_id", req.EventID, "error", err)
		}

		return c.Status(fiber.StatusAccepted).JSON(IngestEventResponse{
			Accepted: eventLog != nil,
			EventID:  req.EventID,
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(IngestEventResponse{Accepted: true, EventID: eventLog.EventID})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.ListByOwner(c.Context(), tenantOf(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	status := models.WorkflowStatus(c.Query("status"))
	summaries := make([]WorkflowSummary, 0, len(workflows))

	for _, workflow := range workflows {
		if status != "" && workflow.Status != status {
			continue
		}

		summaries = append(summaries, TransformWorkflowSummary(workflow))
	}

	return c.JSON(fiber.Map{
		"workflows":   summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), tenantOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), tenantOf(c), req.ToWorkflow())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflowGraph(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.UpdateGraph(c.Context(), tenantOf(c), c.Params("id"), req.ToWorkflow())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*WorkflowRequest, error) {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errInvalidJSON
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), tenantOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.workflowService.Activate)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.workflowService.Pause)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.workflowService.Archive)
}

type transitionFunc func(ctx context.Context, owner, id string) (*models.Workflow, error)

func (h *APIHandlers) transition(c fiber.Ctx, apply transitionFunc) error {
	workflow, err := apply(c.Context(), tenantOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid query parameters: limit must be a positive integer")
		}

		limit = parsed
	}

	executions, err := h.workflowService.Executions(c.Context(), tenantOf(c), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.workflowService.Execution(c.Context(), tenantOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ExportWorkflow(c fiber.Ctx) error {
	doc, err := h.transferService.Export(c.Context(), tenantOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Attachment("workflow-" + c.Params("id") + ".json")

	return c.JSON(doc)
}

func (h *APIHandlers) ImportWorkflow(c fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Workflow document is required")
	}

	imported, err := h.transferService.Import(c.Context(), tenantOf(c), body)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(imported)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	actionTypes := h.registry.ActionTypes()
	regOk := len(actionTypes) > 0
	registryCheck := fmt.Sprintf("%d action types registered", len(actionTypes))
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "EngageFlow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "EngageFlow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
