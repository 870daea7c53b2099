// Package metrics exposes the engine's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry. A nil *Collector records nothing, so
// components can be built without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	eventsIngested    *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	nodeVisits        *prometheus.CounterVec
	conditionClauses  *prometheus.CounterVec
	actions           *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	wakeUpsFired      prometheus.Counter
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.initMetrics()
	c.registerMetrics()

	return c
}

func (c *Collector) initMetrics() {
	c.eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engageflow_events_ingested_total",
		Help: "Events offered to ingestion by result",
	}, []string{"result"})

	c.executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engageflow_executions_total",
		Help: "Workflow executions that reached a terminal status",
	}, []string{"status"})

	c.executionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engageflow_execution_duration_seconds",
		Help:    "Wall time from start to terminal status",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300, 3600, 86400},
	}, []string{"status"})

	c.nodeVisits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engageflow_node_visits_total",
		Help: "Node visits by node type and outcome",
	}, []string{"node_type", "outcome"})

	c.conditionClauses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engageflow_condition_clauses_total",
		Help: "Evaluated condition clauses by operator and result",
	}, []string{"operator", "result"})

	c.actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engageflow_actions_total",
		Help: "Dispatched actions by type and result",
	}, []string{"action_type", "result"})

	c.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engageflow_webhook_breaker_state",
		Help: "Webhook circuit breaker state per host (0 closed, 1 half-open, 2 open)",
	}, []string{"host"})

	c.wakeUpsFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engageflow_timer_wakeups_fired_total",
		Help: "Timer wake-ups handed to the workers",
	})
}

func (c *Collector) registerMetrics() {
	c.registry.MustRegister(
		c.eventsIngested,
		c.executions,
		c.executionDuration,
		c.nodeVisits,
		c.conditionClauses,
		c.actions,
		c.breakerState,
		c.wakeUpsFired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) EventIngested(result string) {
	if c == nil {
		return
	}

	c.eventsIngested.WithLabelValues(result).Inc()
}

func (c *Collector) ExecutionFinished(status string, duration time.Duration) {
	if c == nil {
		return
	}

	c.executions.WithLabelValues(status).Inc()
	c.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (c *Collector) NodeVisited(nodeType, outcome string) {
	if c == nil {
		return
	}

	c.nodeVisits.WithLabelValues(nodeType, outcome).Inc()
}

func (c *Collector) ClauseEvaluated(operator string, passed bool) {
	if c == nil {
		return
	}

	result := "false"
	if passed {
		result = "true"
	}

	c.conditionClauses.WithLabelValues(operator, result).Inc()
}

func (c *Collector) ActionDispatched(actionType, result string) {
	if c == nil {
		return
	}

	c.actions.WithLabelValues(actionType, result).Inc()
}

func (c *Collector) BreakerStateChanged(host string, state int) {
	if c == nil {
		return
	}

	c.breakerState.WithLabelValues(host).Set(float64(state))
}

func (c *Collector) WakeUpFired() {
	if c == nil {
		return
	}

	c.wakeUpsFired.Inc()
}
