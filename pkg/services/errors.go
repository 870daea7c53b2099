// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/engageflow/pkg/codec"
	"github.com/dukex/engageflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrEmptyOwnerID         = errors.New("owner ID cannot be empty")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name is required")

	// Graph Validation Errors (400 Bad Request).
	ErrWhenNodeRequired     = errors.New("workflow must have at least one active when node")
	ErrDuplicateNodeID      = errors.New("duplicate node id")
	ErrInvalidNode          = errors.New("invalid node")
	ErrInvalidConnection    = errors.New("invalid connection")
	ErrIncomingWhenEdge     = errors.New("when nodes cannot have incoming connections")
	ErrCycleWithoutWaiting  = errors.New("cycles must pass through a waiting node")
	ErrInvalidSchedule      = errors.New("invalid schedule")
	ErrUnknownActionType    = errors.New("unknown action type")
	ErrInvalidActionConfig  = errors.New("invalid action configuration")
	ErrInvalidWaitingConfig = errors.New("invalid waiting configuration")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowNotEditable = errors.New("only draft or paused workflows can be edited")
	ErrInvalidTransition   = errors.New("workflow status transition not allowed")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest,
		ErrEmptyOwnerID,
		ErrWorkflowNil,
		ErrWorkflowNameRequired,
		ErrWhenNodeRequired,
		ErrDuplicateNodeID,
		ErrInvalidNode,
		ErrInvalidConnection,
		ErrIncomingWhenEdge,
		ErrCycleWithoutWaiting,
		ErrInvalidSchedule,
		ErrUnknownActionType,
		ErrInvalidActionConfig,
		ErrInvalidWaitingConfig,
		codec.ErrInvalidDocument,
		codec.ErrEmptyDocument,
		codec.ErrDuplicateNodeID,
		codec.ErrUnknownReference,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowNotEditable) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
