//go:build integration

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/engageflow/pkg/actions/delay"
	"github.com/dukex/engageflow/pkg/ingest"
	"github.com/dukex/engageflow/pkg/mocks"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence/postgresql"
	"github.com/dukex/engageflow/pkg/registry"
	"github.com/dukex/engageflow/pkg/services"
	"github.com/dukex/engageflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupIntegrationApp(t *testing.T) *fiber.App {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("engageflow_web"),
		postgres.WithUsername("engageflow"),
		postgres.WithPassword("engageflow"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgresql.NewPersistence(ctx, slog.Default(), dbURL)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("bus-id").Maybe()
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	actions := registry.NewRegistry(slog.Default())
	actions.RegisterAction(delay.NewActionFactory())

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(store, actions, bus, slog.Default()),
		services.NewTransfer(store, slog.Default()),
		ingest.NewIngestor(store.EventLogRepository(), nil, bus, nil, slog.Default()),
		validator.New(validator.WithRequiredStructEnabled()),
		actions,
		slog.Default(),
	)

	app := fiber.New()
	handlers.Register(app)

	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.TenantHeader, "tenant-a")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	var payload bytes.Buffer
	_, err = payload.ReadFrom(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, payload.Bytes()
}

func TestIntegration_WorkflowRoundTrip(t *testing.T) {
	app := setupIntegrationApp(t)

	status, body := call(t, app, http.MethodPost, "/workflows", greetingJSON)
	require.Equal(t, http.StatusCreated, status, string(body))

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	status, body = call(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/activate", "")
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = call(t, app, http.MethodGet, "/workflows/"+workflow.ID, "")
	require.Equal(t, http.StatusOK, status)

	var stored models.Workflow
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, models.WorkflowStatusActive, stored.Status)
	assert.Len(t, stored.Nodes, 2)
	assert.Len(t, stored.Connections, 1)

	status, exported := call(t, app, http.MethodGet, "/workflows/"+workflow.ID+"/export", "")
	require.Equal(t, http.StatusOK, status)

	status, body = call(t, app, http.MethodPost, "/workflows/import", string(exported))
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = call(t, app, http.MethodPost, "/events", `{"event_id": "evt-int-1", "event_type": "tag_added"}`)
	require.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, `{"accepted": true, "event_id": "evt-int-1"}`, string(body))
}
