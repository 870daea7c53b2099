// Package registry is the dispatch table from action types to the factories
// that build them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
	"github.com/dukex/engageflow/pkg/schemas"
)

var ErrActionNotRegistered = errors.New("action type not registered")

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[models.ActionType]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[models.ActionType]protocol.ActionFactory),
	}
}

// RegisterAction adds factory, replacing any factory of the same type.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.Type()] = factory

	r.logger.Debug("Registered action", "action_type", factory.Type())
}

func (r *Registry) factory(actionType models.ActionType) (protocol.ActionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActionNotRegistered, actionType)
	}

	return factory, nil
}

// CreateAction builds the action for an already rendered configuration.
func (r *Registry) CreateAction(actionType models.ActionType, config map[string]any) (protocol.Action, error) {
	factory, err := r.factory(actionType)
	if err != nil {
		return nil, err
	}

	return factory.Create(config)
}

// ValidateAction checks an authored configuration against the factory schema.
func (r *Registry) ValidateAction(actionType models.ActionType, config map[string]any) error {
	factory, err := r.factory(actionType)
	if err != nil {
		return err
	}

	if config == nil {
		config = map[string]any{}
	}

	err = schemas.Validate(factory.Schema(), config)
	if err != nil {
		return fmt.Errorf("action %s: %w", actionType, err)
	}

	return nil
}

func (r *Registry) IsRegistered(actionType models.ActionType) bool {
	_, err := r.factory(actionType)

	return err == nil
}

// ActionTypes lists the registered types in lexical order.
func (r *Registry) ActionTypes() []models.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.ActionType, 0, len(r.factories))
	for actionType := range r.factories {
		types = append(types, actionType)
	}

	slices.Sort(types)

	return types
}

func (r *Registry) Schema(actionType models.ActionType) (map[string]any, bool) {
	factory, err := r.factory(actionType)
	if err != nil {
		return nil, false
	}

	return factory.Schema(), true
}
