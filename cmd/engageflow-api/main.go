// Package main provides the EngageFlow API server.
package main

import (
	"context"
	"os"

	"github.com/dukex/engageflow/pkg/cmd"
	"github.com/dukex/engageflow/pkg/log"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	_ = godotenv.Load()

	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "engageflow-api",
		Usage:                 "Ingest events and manage workflows",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing EngageFlow API")

			runtime, err := cmd.Bootstrap(ctx, command, "engageflow-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close resources", "error", err)
				}
			}()

			api := NewAPI(logger, runtime)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "API server stopped", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("engageflow-api failed", "error", err)
		os.Exit(1)
	}
}
