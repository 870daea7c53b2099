package cmd

import (
	"time"

	"github.com/dukex/engageflow/pkg/aicontrol"
	"github.com/dukex/engageflow/pkg/conditions"
	cli "github.com/urfave/cli/v3"
)

const defaultDedupWindow = 24 * time.Hour

// CommonFlags are shared by every engageflow binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Workflow store: file://<dir> or postgres://...",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for deduplication, AI control and timers",
			Value:   "redis://localhost:6379/0",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "conversations-url",
			Usage:   "Conversation store: memory or postgres://...",
			Value:   "memory",
			Sources: cli.EnvVars("CONVERSATIONS_URL"),
		},
		&cli.DurationFlag{
			Name:    "dedup-window",
			Usage:   "How long event ids are remembered by the fast duplicate filter",
			Value:   defaultDedupWindow,
			Sources: cli.EnvVars("DEDUP_WINDOW"),
		},
		&cli.DurationFlag{
			Name:    "ai-control-ttl",
			Usage:   "Lifetime of AI control and context records",
			Value:   aicontrol.DefaultTTL,
			Sources: cli.EnvVars("AI_CONTROL_TTL"),
		},
		&cli.StringFlag{
			Name:    "oracle-api-key",
			Usage:   "API key of the OpenAI compatible endpoint judging ai_semantic clauses",
			Sources: cli.EnvVars("ORACLE_API_KEY", "OPENAI_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "oracle-base-url",
			Usage:   "Base URL of the OpenAI compatible endpoint",
			Sources: cli.EnvVars("ORACLE_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "oracle-model",
			Usage:   "Model judging ai_semantic clauses",
			Value:   conditions.DefaultOracleModel,
			Sources: cli.EnvVars("ORACLE_MODEL"),
		},
		&cli.DurationFlag{
			Name:    "oracle-timeout",
			Usage:   "Upper bound of one ai_semantic call",
			Value:   conditions.DefaultOracleTimeout,
			Sources: cli.EnvVars("ORACLE_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces through OTLP HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}
