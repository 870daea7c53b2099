package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/engageflow/pkg/cmd"
	"github.com/dukex/engageflow/pkg/services"
	"github.com/dukex/engageflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type API struct {
	logger   *slog.Logger
	runtime  *cmd.Runtime
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime) *API {
	return &API{
		logger:   logger,
		runtime:  runtime,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	rt := a.runtime

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(rt.Persistence, rt.Registry, rt.EventBus, a.logger),
		services.NewTransfer(rt.Persistence, a.logger),
		rt.Ingestor,
		a.validate,
		rt.Registry,
		a.logger,
	)

	return web.NewApp(handlers, rt.Metrics.Handler())
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
