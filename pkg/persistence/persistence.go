// Package persistence provides data storage abstraction layer for workflows, triggers, events and executions.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/engageflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TriggerRepository() TriggerRepository
	EventLogRepository() EventLogRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow graphs.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	ListByOwner(ctx context.Context, owner string) ([]*models.Workflow, error)
	// GetByID returns ErrWorkflowNotFound when no workflow has the id.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	// Delete removes the workflow together with its trigger associations.
	Delete(ctx context.Context, id string) error
	// ReserveExecution increments the execution count when the workflow is
	// still below its cap and reports whether the slot was taken. The check
	// and the increment are a single atomic step.
	ReserveExecution(ctx context.Context, id string) (bool, error)
	// ReleaseExecution returns a reserved slot that no execution used.
	ReleaseExecution(ctx context.Context, id string) error
}

// TriggerRepository stores tenant triggers and their workflow associations.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.Trigger) error
	// GetByOwnerAndType returns ErrTriggerNotFound when the tenant has no trigger of that type.
	GetByOwnerAndType(ctx context.Context, owner string, triggerType models.EventType) (*models.Trigger, error)
	ActiveByType(ctx context.Context, triggerType models.EventType) ([]*models.Trigger, error)

	SaveAssociation(ctx context.Context, association *models.TriggerWorkflowAssociation) error
	AssociationsByTrigger(ctx context.Context, triggerID string) ([]*models.TriggerWorkflowAssociation, error)
	AssociationsByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerWorkflowAssociation, error)
	SetAssociationsActive(ctx context.Context, workflowID string, active bool) error
	DeleteAssociationsByWorkflow(ctx context.Context, workflowID string) error
}

// EventLogRepository is the append-only log of ingested events.
type EventLogRepository interface {
	// Append returns ErrDuplicateEvent when the event id was already logged.
	Append(ctx context.Context, event *models.EventLog) error
	// GetByID returns ErrEventNotFound when the event id is unknown.
	GetByID(ctx context.Context, eventID string) (*models.EventLog, error)
	// MarkPublished records that the event was handed to the bus.
	MarkPublished(ctx context.Context, eventID string, at time.Time) error
}

// ExecutionRepository stores workflow executions and their suspended branches.
type ExecutionRepository interface {
	// Create returns ErrExecutionExists when the workflow already has an
	// execution for the same triggering event.
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	// GetByID returns ErrExecutionNotFound when no execution has the id.
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// ListByWorkflow returns the most recent executions first.
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)
	// LastStartedAt returns the start time of the latest execution of the
	// workflow for the conversation, or nil when there is none.
	LastStartedAt(ctx context.Context, workflowID, conversationID string) (*time.Time, error)
	// FindWaiting returns running executions of the conversation that hold a
	// waiting continuation, oldest first.
	FindWaiting(ctx context.Context, conversationID string) ([]*models.WorkflowExecution, error)
}
