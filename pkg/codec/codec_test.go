package codec

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs(prefix string) func() string {
	next := 0

	return func() string {
		next++

		return fmt.Sprintf("%s-%d", prefix, next)
	}
}

func sampleWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow("tenant-a",
		testutil.WithMaxExecutions(10),
		testutil.WithGraph(
			[]*models.Node{
				testutil.WhenNode("start", models.EventMessageReceived, testutil.WithKeywords("price")),
				testutil.ConditionNode("route", models.CombinationOr,
					models.Clause{ID: "vip", Field: "conversation.tags", Operator: "contains", Value: "vip"}),
				testutil.WaitingNode("ask", models.WaitingConfig{
					StorageType:     models.StorageChoice,
					Prompt:          "Monthly or yearly?",
					Options:         []string{"Monthly", "Yearly"},
					AllowedErrors:   2,
					ResponseTimeout: models.Duration(time.Hour),
				}),
				testutil.ActionNode("reply", models.ActionSendMessage, map[string]any{"content": "You chose {{responses.ask}}"}),
			},
			testutil.Connect("start", "route", models.ConnectionTypeSuccess),
			testutil.ConnectOnClause("route", "ask", "vip"),
			testutil.Connect("ask", "reply", models.ConnectionTypeSuccess),
			testutil.Connect("ask", "ask", models.ConnectionTypeTimeout),
		))
}

func TestRoundTrip(t *testing.T) {
	original := sampleWorkflow()
	original.ExecutionCount = 7

	doc, err := Export(original, []*models.Trigger{{TriggerType: models.EventMessageReceived, Name: "Inbound"}}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, original.ID, doc.ExportMetadata.OriginalWorkflowID)
	assert.Equal(t, Version, doc.ExportMetadata.Version)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	imported, triggers, err := Import(decoded, "tenant-b", sequentialIDs("new"))
	require.NoError(t, err)

	assert.NotEqual(t, original.ID, imported.ID)
	assert.Equal(t, "tenant-b", imported.Owner)
	assert.Equal(t, models.WorkflowStatusDraft, imported.Status)
	assert.Zero(t, imported.ExecutionCount)
	assert.Equal(t, original.MaxExecutions, imported.MaxExecutions)

	require.Len(t, imported.Nodes, len(original.Nodes))
	require.Len(t, imported.Connections, len(original.Connections))

	relabel := make(map[string]string)

	for i, node := range imported.Nodes {
		source := original.Nodes[i]
		relabel[source.ID] = node.ID

		assert.NotEqual(t, source.ID, node.ID)
		assert.Equal(t, imported.ID, node.WorkflowID)
		assert.Equal(t, source.Type, node.Type)
		assert.Equal(t, source.When, node.When)
		assert.Equal(t, source.Condition, node.Condition)
		assert.Equal(t, source.Waiting, node.Waiting)
		assert.Equal(t, source.Action, node.Action)
	}

	for i, connection := range imported.Connections {
		source := original.Connections[i]

		assert.Equal(t, relabel[source.SourceNodeID], connection.SourceNodeID)
		assert.Equal(t, relabel[source.TargetNodeID], connection.TargetNodeID)
		assert.Equal(t, source.ConnectionType, connection.ConnectionType)
		assert.Equal(t, source.Condition, connection.Condition)
	}

	require.Len(t, triggers, 1)
	assert.Equal(t, "tenant-b", triggers[0].Owner)
	assert.Equal(t, "Inbound", triggers[0].Name)
	assert.Equal(t, models.EventMessageReceived, triggers[0].TriggerType)
}

func TestImport_Legacy(t *testing.T) {
	raw := []byte(`{
		"workflow": {"name": "Legacy welcome"},
		"triggers": [
			{"trigger_type": "message_received", "config": {"keywords": ["hello"]}},
			{"trigger_type": "conversation_created"}
		],
		"conditions": [
			{"field": "conversation.status", "operator": "equals", "value": "open"}
		],
		"actions": [
			{"action_type": "add_tag", "order": 2, "config": {"tag": "greeted"}},
			{"action_type": "send_message", "order": 1, "config": {"content": "Welcome!"}}
		]
	}`)

	doc, err := Decode(raw)
	require.NoError(t, err)

	workflow, triggers, err := Import(doc, "tenant-a", sequentialIDs("id"))
	require.NoError(t, err)

	require.Len(t, workflow.Nodes, 5)
	assert.Equal(t, []string{"hello"}, workflow.Nodes[0].When.Keywords)
	assert.Equal(t, models.NodeTypeCondition, workflow.Nodes[2].Type)
	assert.Equal(t, models.ActionSendMessage, workflow.Nodes[3].Action.ActionType)
	assert.Equal(t, models.ActionAddTag, workflow.Nodes[4].Action.ActionType)

	// Both When nodes feed the condition, which feeds the ordered action chain.
	require.Len(t, workflow.Connections, 4)
	assert.Equal(t, workflow.Nodes[2].ID, workflow.Connections[0].TargetNodeID)
	assert.Equal(t, workflow.Nodes[2].ID, workflow.Connections[1].TargetNodeID)
	assert.Equal(t, workflow.Nodes[3].ID, workflow.Connections[2].TargetNodeID)
	assert.Equal(t, workflow.Nodes[4].ID, workflow.Connections[3].TargetNodeID)

	for _, node := range workflow.Nodes {
		require.NoError(t, node.Validate())
	}

	assert.Len(t, triggers, 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"missing workflow", `{"nodes": [{"id": "a", "type": "when"}]}`},
		{"no nodes or triggers", `{"workflow": {"name": "x"}}`},
		{"unknown node type", `{"workflow": {"name": "x"}, "nodes": [{"id": "a", "type": "loop"}]}`},
		{"bad connection type", `{"workflow": {"name": "x"}, "nodes": [{"id": "a", "type": "when"}], "connections": [{"source_node_id": "a", "target_node_id": "a", "connection_type": "maybe"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, Validate([]byte(tt.raw)), ErrInvalidDocument)
		})
	}
}

func TestImport_DanglingConnection(t *testing.T) {
	doc := &Document{
		Workflow:    WorkflowInfo{Name: "broken"},
		Nodes:       []*models.Node{testutil.WhenNode("start", models.EventMessageReceived)},
		Connections: []*models.Connection{testutil.Connect("start", "ghost", models.ConnectionTypeSuccess)},
	}

	_, _, err := Import(doc, "tenant-a", sequentialIDs("id"))
	require.ErrorIs(t, err, ErrUnknownReference)
}
