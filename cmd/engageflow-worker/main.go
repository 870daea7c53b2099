// Package main provides the EngageFlow worker: it matches logged events,
// runs workflow graphs and resumes suspended branches.
package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/engageflow/pkg/cmd"
	"github.com/dukex/engageflow/pkg/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "engageflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflows",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.IntFlag{
				Name:    "lanes",
				Usage:   "Number of ordered execution lanes",
				Value:   16,
				Sources: cli.EnvVars("WORKER_LANES"),
			},
			&cli.IntFlag{
				Name:    "max-steps",
				Usage:   "Maximum node visits per execution run",
				Value:   1000,
				Sources: cli.EnvVars("MAX_STEPS"),
			},
			&cli.DurationFlag{
				Name:    "timer-interval",
				Usage:   "How often due wake-ups are claimed",
				Value:   time.Second,
				Sources: cli.EnvVars("TIMER_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "schedule-sync-interval",
				Usage:   "How often schedule nodes are reloaded from active workflows",
				Value:   time.Minute,
				Sources: cli.EnvVars("SCHEDULE_SYNC_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "api-port",
				Usage:   "Serve the HTTP API from the worker on this port (0 disables)",
				Value:   0,
				Sources: cli.EnvVars("API_PORT"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port for the Prometheus metrics endpoint (0 disables)",
				Value:   9092,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("engageflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing EngageFlow Worker")

			runtime, err := cmd.Bootstrap(ctx, command, "engageflow-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close resources", "error", err)
				}
			}()

			return Run(ctx, workerID, command, runtime)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("engageflow-worker").Error("engageflow-worker failed", "error", err)
		os.Exit(1)
	}
}
