// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	aiactions "github.com/dukex/engageflow/pkg/actions/aicontrol"
	conversationactions "github.com/dukex/engageflow/pkg/actions/conversation"
	"github.com/dukex/engageflow/pkg/actions/delay"
	"github.com/dukex/engageflow/pkg/actions/sendmessage"
	"github.com/dukex/engageflow/pkg/actions/webhook"
	"github.com/dukex/engageflow/pkg/aicontrol"
	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/dukex/engageflow/pkg/metrics"
	"github.com/dukex/engageflow/pkg/registry"
)

const webhookTimeout = 10 * time.Second

// ActionDeps are the collaborators the native actions need.
type ActionDeps struct {
	Sender        sendmessage.Sender
	Conversations conversations.Store
	AIControl     aicontrol.Store
	Metrics       *metrics.Collector
}

func registerNativeActions(reg *registry.Registry, log *slog.Logger, deps ActionDeps) {
	reg.RegisterAction(sendmessage.NewActionFactory(deps.Sender))
	reg.RegisterAction(conversationactions.NewSetStatusFactory(deps.Conversations))
	reg.RegisterAction(conversationactions.NewAddTagFactory(deps.Conversations))
	reg.RegisterAction(conversationactions.NewRemoveTagFactory(deps.Conversations))
	reg.RegisterAction(aiactions.NewControlActionFactory(deps.AIControl))
	reg.RegisterAction(aiactions.NewContextActionFactory(deps.AIControl))
	reg.RegisterAction(delay.NewActionFactory())
	reg.RegisterAction(webhook.NewActionFactory(
		&http.Client{Timeout: webhookTimeout},
		webhook.NewBreakers(log, webhook.WithBreakerMetrics(deps.Metrics)),
	))
}

func NewRegistry(log *slog.Logger, deps ActionDeps) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeActions(reg, log, deps)

	return reg
}
