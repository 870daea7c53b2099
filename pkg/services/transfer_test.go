package services

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dukex/engageflow/pkg/codec"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer_ExportImportAcrossTenants(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	workflows := NewWorkflow(store, testRegistry(), nil, slog.Default())
	transfer := NewTransfer(store, slog.Default())

	created, err := workflows.Create(t.Context(), "tenant-a", greeting("Greeting"))
	require.NoError(t, err)

	_, err = workflows.Activate(t.Context(), "tenant-a", created.ID)
	require.NoError(t, err)

	doc, err := transfer.Export(t.Context(), "tenant-a", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, doc.ExportMetadata.OriginalWorkflowID)
	assert.Equal(t, codec.Version, doc.ExportMetadata.Version)
	require.Len(t, doc.Triggers, 1)
	assert.Equal(t, models.EventMessageReceived, doc.Triggers[0].TriggerType)

	_, err = transfer.Export(t.Context(), "tenant-b", created.ID)
	assert.True(t, IsNotFoundError(err))

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	imported, err := transfer.Import(t.Context(), "tenant-b", raw)
	require.NoError(t, err)

	assert.NotEqual(t, created.ID, imported.ID)
	assert.Equal(t, "tenant-b", imported.Owner)
	assert.Equal(t, models.WorkflowStatusDraft, imported.Status)
	require.Len(t, imported.Nodes, 2)
	require.Len(t, imported.Connections, 1)
	assert.Equal(t, imported.Nodes[0].ID, imported.Connections[0].SourceNodeID)
	assert.Equal(t, imported.Nodes[1].ID, imported.Connections[0].TargetNodeID)

	trigger, err := store.TriggerRepository().GetByOwnerAndType(t.Context(), "tenant-b", models.EventMessageReceived)
	require.NoError(t, err)
	assert.Equal(t, "tenant-b", trigger.Owner)

	// The imported draft activates under its new owner.
	_, err = workflows.Activate(t.Context(), "tenant-b", imported.ID)
	require.NoError(t, err)

	enabled, err := store.TriggerRepository().GetByOwnerAndType(t.Context(), "tenant-b", models.EventMessageReceived)
	require.NoError(t, err)
	assert.True(t, enabled.IsActive)
	assert.Equal(t, trigger.ID, enabled.ID)
}

func TestTransfer_ImportKeepsExistingTriggers(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	transfer := NewTransfer(store, slog.Default())

	existing := &models.Trigger{
		Owner:       "tenant-b",
		TriggerType: models.EventMessageReceived,
		Name:        "Inbox",
		IsActive:    true,
	}
	require.NoError(t, store.TriggerRepository().Save(t.Context(), existing))

	raw := []byte(`{
		"workflow": {"name": "Legacy welcome"},
		"triggers": [{"trigger_type": "message_received", "config": {"keywords": ["hi"]}}],
		"actions": [{"action_type": "delay", "order": 1, "config": {"duration": "1m"}}]
	}`)

	imported, err := transfer.Import(t.Context(), "tenant-b", raw)
	require.NoError(t, err)
	assert.NotEmpty(t, imported.Nodes)

	trigger, err := store.TriggerRepository().GetByOwnerAndType(t.Context(), "tenant-b", models.EventMessageReceived)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, trigger.ID)
	assert.Equal(t, "Inbox", trigger.Name)
	assert.True(t, trigger.IsActive)
}

func TestTransfer_ImportRejectsInvalidDocuments(t *testing.T) {
	transfer := NewTransfer(file.NewPersistence(t.TempDir()), slog.Default())

	for name, raw := range map[string]string{
		"not json":        `{"workflow":`,
		"missing name":    `{"workflow": {}, "nodes": [{"id": "a", "type": "when"}]}`,
		"no graph":        `{"workflow": {"name": "Empty"}}`,
		"dangling target": `{"workflow": {"name": "Dangling"}, "nodes": [{"id": "a", "type": "when", "when": {"when_type": "tag_added"}}], "connections": [{"source_node_id": "a", "target_node_id": "b", "connection_type": "success"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := transfer.Import(t.Context(), "tenant-b", []byte(raw))
			require.Error(t, err)
			assert.True(t, IsValidationError(err), err.Error())
		})
	}

	_, err := transfer.Import(t.Context(), "", []byte(`{}`))
	require.ErrorIs(t, err, ErrEmptyOwnerID)
}
