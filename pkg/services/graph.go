package services

import (
	"errors"
	"fmt"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/registry"
	"github.com/dukex/engageflow/pkg/schedule"
)

// ValidateGraph checks that workflow can be activated and reports every
// problem found.
func ValidateGraph(workflow *models.Workflow, actions *registry.Registry) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	var errs []error

	if workflow.Name == "" {
		errs = append(errs, ErrWorkflowNameRequired)
	}

	nodes := make(map[string]*models.Node, len(workflow.Nodes))
	activeWhen := false

	for _, node := range workflow.Nodes {
		if _, seen := nodes[node.ID]; seen {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID))

			continue
		}

		nodes[node.ID] = node

		err := node.Validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidNode, err))

			continue
		}

		if node.Type == models.NodeTypeWhen && node.IsActive {
			activeWhen = true
		}

		errs = append(errs, validateNode(node, actions)...)
	}

	if !activeWhen {
		errs = append(errs, ErrWhenNodeRequired)
	}

	for _, connection := range workflow.Connections {
		err := validateConnection(connection, nodes)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if cycle := cycleWithoutWaiting(workflow, nodes); cycle != "" {
		errs = append(errs, fmt.Errorf("%w: through %s", ErrCycleWithoutWaiting, cycle))
	}

	return errors.Join(errs...)
}

func validateNode(node *models.Node, actions *registry.Registry) []error {
	var errs []error

	switch node.Type {
	case models.NodeTypeWhen:
		if node.When.WhenType != models.EventScheduledTick {
			break
		}

		if node.When.Schedule == "" {
			errs = append(errs, fmt.Errorf("%w: node %s has no schedule", ErrInvalidSchedule, node.ID))

			break
		}

		_, err := schedule.ParseSchedule(node.When.Schedule)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: node %s: %w", ErrInvalidSchedule, node.ID, err))
		}
	case models.NodeTypeAction:
		if !actions.IsRegistered(node.Action.ActionType) {
			errs = append(errs, fmt.Errorf("%w: node %s uses %q", ErrUnknownActionType, node.ID, node.Action.ActionType))

			break
		}

		err := actions.ValidateAction(node.Action.ActionType, node.Action.Config)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: node %s: %w", ErrInvalidActionConfig, node.ID, err))
		}
	case models.NodeTypeWaiting:
		config := node.Waiting

		switch config.StorageType {
		case models.StorageText, "":
		case models.StorageChoice:
			if len(config.Options) == 0 {
				errs = append(errs, fmt.Errorf("%w: node %s needs options", ErrInvalidWaitingConfig, node.ID))
			}
		case models.StorageStructured:
			if len(config.Schema) == 0 {
				errs = append(errs, fmt.Errorf("%w: node %s needs a schema", ErrInvalidWaitingConfig, node.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("%w: node %s has storage type %q", ErrInvalidWaitingConfig, node.ID, config.StorageType))
		}
	case models.NodeTypeCondition:
		seen := make(map[string]bool)

		for _, clause := range node.Condition.Clauses {
			if clause.ID == "" {
				continue
			}

			if seen[clause.ID] {
				errs = append(errs, fmt.Errorf("%w: node %s repeats clause %s", ErrInvalidNode, node.ID, clause.ID))
			}

			seen[clause.ID] = true
		}
	}

	return errs
}

func validateConnection(connection *models.Connection, nodes map[string]*models.Node) error {
	source, okSource := nodes[connection.SourceNodeID]
	target, okTarget := nodes[connection.TargetNodeID]

	switch {
	case !okSource || !okTarget:
		return fmt.Errorf("%w: %s -> %s references an unknown node", ErrInvalidConnection, connection.SourceNodeID, connection.TargetNodeID)
	case target.Type == models.NodeTypeWhen:
		return fmt.Errorf("%w: %s", ErrIncomingWhenEdge, target.ID)
	case !source.Type.CanEmit(connection.ConnectionType):
		return fmt.Errorf("%w: %s nodes cannot emit %q", ErrInvalidConnection, source.Type, connection.ConnectionType)
	case connection.Condition == "":
		return nil
	case source.Type != models.NodeTypeCondition || connection.ConnectionType != models.ConnectionTypeSuccess:
		return fmt.Errorf("%w: only success edges of condition nodes may name a clause", ErrInvalidConnection)
	}

	for _, clause := range source.Condition.Clauses {
		if clause.ID == connection.Condition {
			return nil
		}
	}

	return fmt.Errorf("%w: node %s has no clause %s", ErrInvalidConnection, source.ID, connection.Condition)
}

// cycleWithoutWaiting returns a node on a cycle that avoids every waiting
// node, or "" when there is none.
func cycleWithoutWaiting(workflow *models.Workflow, nodes map[string]*models.Node) string {
	const (
		unvisited = iota
		onStack
		done
	)

	state := make(map[string]int, len(nodes))

	adjacent := make(map[string][]string)
	for _, connection := range workflow.Connections {
		source, target := nodes[connection.SourceNodeID], nodes[connection.TargetNodeID]
		if source == nil || target == nil || source.Type == models.NodeTypeWaiting || target.Type == models.NodeTypeWaiting {
			continue
		}

		adjacent[source.ID] = append(adjacent[source.ID], target.ID)
	}

	type frame struct {
		node string
		next int
	}

	for _, node := range workflow.Nodes {
		if state[node.ID] != unvisited {
			continue
		}

		stack := []frame{{node: node.ID}}
		state[node.ID] = onStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]

			if top.next >= len(adjacent[top.node]) {
				state[top.node] = done
				stack = stack[:len(stack)-1]

				continue
			}

			target := adjacent[top.node][top.next]
			top.next++

			switch state[target] {
			case onStack:
				return target
			case unvisited:
				state[target] = onStack
				stack = append(stack, frame{node: target})
			}
		}
	}

	return ""
}
