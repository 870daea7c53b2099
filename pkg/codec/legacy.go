package codec

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dukex/engageflow/pkg/models"
)

// legacyGraph turns a document from the trigger/condition/action era into a
// graph: every trigger becomes a When node, all conditions one AND
// condition node, and the actions a success chain in their order.
func legacyGraph(doc *Document) ([]*models.Node, []*models.Connection) {
	nodes := make([]*models.Node, 0, len(doc.Triggers)+len(doc.Actions)+1)
	connections := make([]*models.Connection, 0)

	whenIDs := make([]string, 0, len(doc.Triggers))

	for i, trigger := range doc.Triggers {
		node := &models.Node{
			ID:       fmt.Sprintf("when-%d", i+1),
			Type:     models.NodeTypeWhen,
			Name:     trigger.Name,
			IsActive: true,
			When:     whenConfig(trigger),
		}

		if node.Name == "" {
			node.Name = string(trigger.TriggerType)
		}

		nodes = append(nodes, node)
		whenIDs = append(whenIDs, node.ID)
	}

	if len(whenIDs) == 0 {
		return nil, nil
	}

	previous := whenIDs

	link := func(target string) {
		for _, source := range previous {
			connections = append(connections, &models.Connection{
				ID:             source + "-" + target,
				SourceNodeID:   source,
				TargetNodeID:   target,
				ConnectionType: models.ConnectionTypeSuccess,
			})
		}

		previous = []string{target}
	}

	if len(doc.Conditions) > 0 {
		nodes = append(nodes, &models.Node{
			ID:       "condition",
			Type:     models.NodeTypeCondition,
			Name:     "Conditions",
			IsActive: true,
			Condition: &models.ConditionConfig{
				CombinationOperator: models.CombinationAnd,
				Clauses:             append([]models.Clause(nil), doc.Conditions...),
			},
		})
		link("condition")
	}

	actions := append([]ActionEntry(nil), doc.Actions...)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Order < actions[j].Order
	})

	for i, action := range actions {
		node := &models.Node{
			ID:       fmt.Sprintf("action-%d", i+1),
			Type:     models.NodeTypeAction,
			Name:     action.Name,
			IsActive: true,
			Action:   &models.ActionConfig{ActionType: action.ActionType, Config: action.Config},
		}

		if node.Name == "" {
			node.Name = string(action.ActionType)
		}

		nodes = append(nodes, node)
		link(node.ID)
	}

	return nodes, connections
}

// whenConfig reads the When criteria out of a legacy trigger config.
func whenConfig(trigger TriggerEntry) *models.WhenConfig {
	config := &models.WhenConfig{}

	if len(trigger.Config) > 0 {
		raw, err := json.Marshal(trigger.Config)
		if err == nil {
			_ = json.Unmarshal(raw, config)
		}
	}

	config.WhenType = trigger.TriggerType

	return config
}
