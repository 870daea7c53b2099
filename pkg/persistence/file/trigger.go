package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/google/uuid"
)

// TriggerRepository handles triggers and trigger-workflow associations on disk.
type TriggerRepository struct {
	store *store
}

func (tr *TriggerRepository) Save(_ context.Context, trigger *models.Trigger) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	if trigger.ID == "" {
		trigger.ID = uuid.NewString()
	}

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	return tr.store.write(triggersDir, trigger.ID, trigger)
}

func (tr *TriggerRepository) GetByOwnerAndType(_ context.Context, owner string, triggerType models.EventType) (*models.Trigger, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	triggers, err := readAll[models.Trigger](tr.store, triggersDir)
	if err != nil {
		return nil, err
	}

	sortTriggers(triggers)

	for _, trigger := range triggers {
		if trigger.Owner == owner && trigger.TriggerType == triggerType {
			return trigger, nil
		}
	}

	return nil, fmt.Errorf("%s/%s: %w", owner, triggerType, persistence.ErrTriggerNotFound)
}

func (tr *TriggerRepository) ActiveByType(_ context.Context, triggerType models.EventType) ([]*models.Trigger, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	triggers, err := readAll[models.Trigger](tr.store, triggersDir)
	if err != nil {
		return nil, err
	}

	sortTriggers(triggers)

	active := make([]*models.Trigger, 0)

	for _, trigger := range triggers {
		if trigger.IsActive && trigger.TriggerType == triggerType {
			active = append(active, trigger)
		}
	}

	return active, nil
}

func (tr *TriggerRepository) SaveAssociation(_ context.Context, association *models.TriggerWorkflowAssociation) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	if association.ID == "" {
		association.ID = uuid.NewString()
	}

	if association.CreatedAt.IsZero() {
		association.CreatedAt = time.Now().UTC()
	}

	return tr.store.write(associationsDir, association.ID, association)
}

func (tr *TriggerRepository) AssociationsByTrigger(_ context.Context, triggerID string) ([]*models.TriggerWorkflowAssociation, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	return filterAssociations(tr.store, func(a *models.TriggerWorkflowAssociation) bool {
		return a.TriggerID == triggerID
	})
}

func (tr *TriggerRepository) AssociationsByWorkflow(_ context.Context, workflowID string) ([]*models.TriggerWorkflowAssociation, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	return filterAssociations(tr.store, func(a *models.TriggerWorkflowAssociation) bool {
		return a.WorkflowID == workflowID
	})
}

func (tr *TriggerRepository) SetAssociationsActive(_ context.Context, workflowID string, active bool) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	associations, err := filterAssociations(tr.store, func(a *models.TriggerWorkflowAssociation) bool {
		return a.WorkflowID == workflowID
	})
	if err != nil {
		return err
	}

	for _, association := range associations {
		association.IsActive = active

		err := tr.store.write(associationsDir, association.ID, association)
		if err != nil {
			return err
		}
	}

	return nil
}

func (tr *TriggerRepository) DeleteAssociationsByWorkflow(_ context.Context, workflowID string) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	return deleteAssociations(tr.store, workflowID)
}

// deleteAssociations expects the caller to hold the write lock.
func deleteAssociations(s *store, workflowID string) error {
	associations, err := filterAssociations(s, func(a *models.TriggerWorkflowAssociation) bool {
		return a.WorkflowID == workflowID
	})
	if err != nil {
		return err
	}

	for _, association := range associations {
		err := s.remove(associationsDir, association.ID)
		if err != nil {
			return err
		}
	}

	return nil
}

func filterAssociations(s *store, keep func(*models.TriggerWorkflowAssociation) bool) ([]*models.TriggerWorkflowAssociation, error) {
	associations, err := readAll[models.TriggerWorkflowAssociation](s, associationsDir)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(associations, func(i, j int) bool {
		return associations[i].CreatedAt.Before(associations[j].CreatedAt)
	})

	kept := make([]*models.TriggerWorkflowAssociation, 0)

	for _, association := range associations {
		if keep(association) {
			kept = append(kept, association)
		}
	}

	return kept, nil
}

func sortTriggers(triggers []*models.Trigger) {
	sort.SliceStable(triggers, func(i, j int) bool {
		return triggers[i].CreatedAt.Before(triggers[j].CreatedAt)
	})
}
