package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/engageflow/pkg/conditions"
	"github.com/dukex/engageflow/pkg/eventbus"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/metrics"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/otelhelper"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/dukex/engageflow/pkg/registry"
	"github.com/dukex/engageflow/pkg/timer"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the node visits of one execution.
const DefaultMaxSteps = 500

var (
	ErrUnknownNode          = errors.New("unknown node")
	ErrUnknownNodeType      = errors.New("unknown node type")
	ErrDanglingConnection   = errors.New("connection targets an unknown node")
	ErrMalformedNode        = errors.New("malformed node configuration")
	ErrVisitBudgetExhausted = errors.New("visit budget exhausted")
	ErrWorkflowGone         = errors.New("workflow of a running execution no longer exists")
)

var executionNamespace = uuid.MustParse("5b0f3c0e-4d0c-4bd4-9a63-7f1d0c4f6e21")

// ExecutionID derives the execution id of a workflow started by an event, so
// a redelivered event maps onto the execution it already started.
func ExecutionID(workflowID, eventID string) string {
	return uuid.NewSHA1(executionNamespace, []byte(workflowID+"/"+eventID)).String()
}

// MessageSender writes workflow messages into conversations.
type MessageSender interface {
	Send(ctx context.Context, message *models.Message) error
}

type Option func(*Executor)

func WithMaxSteps(maxSteps int) Option {
	return func(e *Executor) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Executor) {
		e.metrics = collector
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithPublisher announces terminal executions on the event bus.
func WithPublisher(publisher eventbus.EventBus) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// nodeHandler runs one node visit. A returned error is fatal for the execution.
type nodeHandler func(ctx context.Context, r *run, node *models.Node) (visit, error)

// visit is what a node produced: the outcome that selects outgoing edges, or
// a suspension that parks the branch.
type visit struct {
	outcome   models.ConnectionType
	clauseID  string
	output    map[string]any
	errMsg    string
	suspended bool
}

type run struct {
	workflow  *models.Workflow
	execution *models.WorkflowExecution
	logger    *slog.Logger
	wakeUps   []timer.WakeUp
}

func (r *run) data() map[string]any {
	return r.execution.Context.Data(r.workflow)
}

// Executor walks workflow graphs. It is safe for concurrent use as long as a
// single execution is never advanced by two goroutines at once.
type Executor struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	registry   *registry.Registry
	evaluator  *conditions.Evaluator
	sender     MessageSender
	timers     timer.Store
	publisher  eventbus.EventBus
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *slog.Logger
	maxSteps   int
	now        func() time.Time
	handlers   map[models.NodeType]nodeHandler
}

func NewExecutor(
	p persistence.Persistence,
	registry *registry.Registry,
	evaluator *conditions.Evaluator,
	sender MessageSender,
	timers timer.Store,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		workflows:  p.WorkflowRepository(),
		executions: p.ExecutionRepository(),
		registry:   registry,
		evaluator:  evaluator,
		sender:     sender,
		timers:     timers,
		tracer:     otelhelper.NoopTracer(),
		logger:     logger.With("module", "workflow_executor"),
		maxSteps:   DefaultMaxSteps,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.handlers = map[models.NodeType]nodeHandler{
		models.NodeTypeWhen:      e.visitWhen,
		models.NodeTypeCondition: e.visitCondition,
		models.NodeTypeAction:    e.visitAction,
		models.NodeTypeWaiting:   e.visitWaiting,
	}

	return e
}

// Start runs a matched workflow for event. It returns a nil execution when
// nothing was started: the event already started this workflow, the
// per-conversation delay window is still open, or the execution cap is
// reached.
func (e *Executor) Start(ctx context.Context, candidate Candidate, event *models.EventLog) (*models.WorkflowExecution, error) {
	workflow := candidate.Workflow
	executionID := ExecutionID(workflow.ID, event.EventID)
	logger := e.logger.With(
		"workflow_id", workflow.ID,
		"execution_id", executionID,
		"event_id", event.EventID,
		"conversation_id", event.ConversationID,
	)

	_, err := e.executions.GetByID(ctx, executionID)
	if err == nil {
		logger.InfoContext(ctx, "Event already started this workflow")

		return nil, nil
	}

	if !persistence.IsExecutionNotFound(err) {
		return nil, fmt.Errorf("failed to look up execution: %w", err)
	}

	open, err := e.delayWindowOpen(ctx, workflow, event.ConversationID)
	if err != nil {
		return nil, err
	}

	if open {
		logger.InfoContext(ctx, "Skipping execution inside the delay window",
			"delay_between_executions", workflow.DelayBetweenExecutions.Std())

		return nil, nil
	}

	reserved, err := e.workflows.ReserveExecution(ctx, workflow.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve execution: %w", err)
	}

	if !reserved {
		logger.InfoContext(ctx, "Skipping execution, workflow reached its execution cap",
			"max_executions", workflow.MaxExecutions)

		return nil, nil
	}

	execution := &models.WorkflowExecution{
		ID:                executionID,
		WorkflowID:        workflow.ID,
		TriggeringEventID: event.EventID,
		ConversationID:    event.ConversationID,
		Owner:             workflow.Owner,
		Status:            models.ExecutionStatusPending,
		Context:           newExecutionContext(workflow, event, candidate.Conversation),
		Results:           make([]models.NodeResult, 0),
		Continuations:     make([]models.Continuation, 0),
		StartedAt:         e.now().UTC(),
	}

	err = e.executions.Create(ctx, execution)
	if err != nil {
		releaseErr := e.workflows.ReleaseExecution(ctx, workflow.ID)
		if releaseErr != nil {
			logger.ErrorContext(ctx, "Failed to release execution slot", "error", releaseErr)
		}

		if persistence.IsExecutionExists(err) {
			logger.InfoContext(ctx, "Execution created concurrently")

			return nil, nil
		}

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.start",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowOwnerKey, workflow.Owner),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.EventIDKey, event.EventID),
		attribute.String(otelhelper.EventTypeKey, string(event.EventType)),
		attribute.String(otelhelper.ConversationIDKey, event.ConversationID),
	)
	defer span.End()

	logger.InfoContext(ctx, "Starting execution", "when_nodes", len(candidate.WhenNodes))

	execution.Status = models.ExecutionStatusRunning
	r := &run{workflow: workflow, execution: execution, logger: logger}

	queue := make([]string, 0, len(candidate.WhenNodes))
	for _, node := range candidate.WhenNodes {
		queue = append(queue, node.ID)
	}

	fatal := e.walk(ctx, r, queue)
	if fatal != nil {
		otelhelper.SetError(span, fatal)
	}

	return execution, e.finish(ctx, r, fatal)
}

func (e *Executor) delayWindowOpen(ctx context.Context, workflow *models.Workflow, conversationID string) (bool, error) {
	delay := workflow.DelayBetweenExecutions.Std()
	if delay <= 0 || conversationID == "" {
		return false, nil
	}

	last, err := e.executions.LastStartedAt(ctx, workflow.ID, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to read last execution: %w", err)
	}

	return last != nil && e.now().Sub(*last) < delay, nil
}

// Resume continues a suspended branch whose wake-up fired. A continuation
// that is no longer pending is ignored.
func (e *Executor) Resume(ctx context.Context, executionID, continuationID string) error {
	logger := e.logger.With("execution_id", executionID, "continuation_id", continuationID)

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			logger.WarnContext(ctx, "Wake-up for unknown execution")

			return nil
		}

		return fmt.Errorf("failed to load execution: %w", err)
	}

	continuation := execution.Continuation(continuationID)
	if execution.Status.Terminal() || continuation == nil {
		logger.DebugContext(ctx, "Continuation no longer pending")

		return nil
	}

	pending := *continuation

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.resume",
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, pending.NodeID),
	)
	defer span.End()

	r, node, fatal := e.load(ctx, execution, pending)
	if fatal != nil {
		return e.finish(ctx, r, fatal)
	}

	execution.RemoveContinuation(pending.ID)

	v := visit{outcome: models.ConnectionTypeSuccess, output: map[string]any{"resumed_at": e.now().UTC().Format(time.RFC3339)}}
	if pending.Kind == models.ContinuationWaiting {
		v = visit{outcome: models.ConnectionTypeTimeout, errMsg: "response timeout"}
	}

	r.logger.InfoContext(ctx, "Resuming branch", "node_id", node.ID, "kind", pending.Kind)
	e.record(r, node, v)

	targets, fatal := e.next(r.workflow, node, v)
	if fatal == nil {
		fatal = e.walk(ctx, r, targets)
	}

	if fatal != nil {
		otelhelper.SetError(span, fatal)
	}

	return e.finish(ctx, r, fatal)
}

// load prepares a run for a pending continuation of execution.
func (e *Executor) load(ctx context.Context, execution *models.WorkflowExecution, pending models.Continuation) (*run, *models.Node, error) {
	logger := e.logger.With(
		"workflow_id", execution.WorkflowID,
		"execution_id", execution.ID,
		"conversation_id", execution.ConversationID,
	)

	ensureMaps(&execution.Context)

	r := &run{workflow: &models.Workflow{ID: execution.WorkflowID}, execution: execution, logger: logger}

	workflow, err := e.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return r, nil, ErrWorkflowGone
		}

		return r, nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	r.workflow = workflow

	node := workflow.NodeByID(pending.NodeID)
	if node == nil {
		return r, nil, fmt.Errorf("%w: %s", ErrUnknownNode, pending.NodeID)
	}

	return r, node, nil
}

// walk visits nodes breadth-first from queue until every branch ended or
// suspended. The returned error is fatal for the execution.
func (e *Executor) walk(ctx context.Context, r *run, queue []string) error {
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		node := r.workflow.NodeByID(nodeID)
		if node == nil {
			return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
		}

		if r.execution.Context.Visits >= e.maxSteps {
			return fmt.Errorf("%w after %d visits", ErrVisitBudgetExhausted, r.execution.Context.Visits)
		}

		r.execution.Context.Visits++

		v, err := e.visit(ctx, r, node)
		if err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}

		e.record(r, node, v)

		if v.suspended {
			continue
		}

		targets, err := e.next(r.workflow, node, v)
		if err != nil {
			return err
		}

		queue = append(queue, targets...)
	}

	return nil
}

func (e *Executor) visit(ctx context.Context, r *run, node *models.Node) (visit, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	if !node.IsActive {
		otelhelper.SetOutcome(span, string(models.ConnectionTypeSkip))

		return visit{outcome: models.ConnectionTypeSkip}, nil
	}

	handler, ok := e.handlers[node.Type]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownNodeType, node.Type)
		otelhelper.SetError(span, err)

		return visit{}, err
	}

	v, err := handler(ctx, r, node)
	if err != nil {
		otelhelper.SetError(span, err)

		return visit{}, err
	}

	if v.suspended {
		otelhelper.SetOutcome(span, "suspended")
	} else {
		otelhelper.SetOutcome(span, string(v.outcome))
	}

	return v, nil
}

// next selects the targets of node's outgoing edges for the visit outcome.
// A passing OR condition follows untagged success edges and the edges tagged
// with the deciding clause. Missing timeout edges fall back to failure edges
// and missing skip edges to success edges.
func (e *Executor) next(workflow *models.Workflow, node *models.Node, v visit) ([]string, error) {
	selected := e.edges(workflow, node, v.outcome, v.clauseID)

	if len(selected) == 0 {
		switch v.outcome {
		case models.ConnectionTypeTimeout:
			selected = e.edges(workflow, node, models.ConnectionTypeFailure, "")
		case models.ConnectionTypeSkip:
			selected = e.edges(workflow, node, models.ConnectionTypeSuccess, "")
		}
	}

	targets := make([]string, 0, len(selected))

	for _, connection := range selected {
		if workflow.NodeByID(connection.TargetNodeID) == nil {
			return nil, fmt.Errorf("%w: %s -> %s", ErrDanglingConnection, connection.SourceNodeID, connection.TargetNodeID)
		}

		targets = append(targets, connection.TargetNodeID)
	}

	return targets, nil
}

func (e *Executor) edges(workflow *models.Workflow, node *models.Node, outcome models.ConnectionType, clauseID string) []*models.Connection {
	selected := make([]*models.Connection, 0)

	for _, connection := range workflow.OutgoingConnections(node.ID) {
		if connection.ConnectionType != outcome {
			continue
		}

		if connection.Condition != "" && (node.Type != models.NodeTypeCondition || connection.Condition != clauseID) {
			continue
		}

		selected = append(selected, connection)
	}

	return selected
}

func (e *Executor) record(r *run, node *models.Node, v visit) {
	result := models.NodeResult{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Outcome:   v.outcome,
		Output:    v.output,
		Error:     v.errMsg,
		Timestamp: e.now().UTC(),
	}

	label := string(v.outcome)
	if v.suspended {
		result.Outcome = ""
		label = "suspended"
	}

	r.execution.Results = append(r.execution.Results, result)
	e.metrics.NodeVisited(string(node.Type), label)
}

// suspend parks the branch at node until a wake-up after d or, for waiting
// nodes, a counterparty response.
func (e *Executor) suspend(r *run, node *models.Node, kind models.ContinuationKind, d time.Duration) {
	now := e.now().UTC()

	continuation := models.Continuation{
		ID:        uuid.NewString(),
		NodeID:    node.ID,
		Kind:      kind,
		ResumeAt:  now.Add(d),
		CreatedAt: now,
	}

	r.execution.Continuations = append(r.execution.Continuations, continuation)
	r.wakeUps = append(r.wakeUps, timer.WakeUp{
		ID:             continuation.ID,
		ExecutionID:    r.execution.ID,
		ConversationID: r.execution.ConversationID,
		NodeID:         node.ID,
		Kind:           kind,
		DueAt:          continuation.ResumeAt,
	})
}

// finish settles the execution status, persists it and only then schedules
// the wake-ups of newly suspended branches.
func (e *Executor) finish(ctx context.Context, r *run, fatal error) error {
	execution := r.execution

	switch {
	case fatal != nil:
		r.logger.ErrorContext(ctx, "Execution failed", "error", fatal)

		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = fatal.Error()
		execution.Continuations = make([]models.Continuation, 0)
		r.wakeUps = nil
	case len(execution.Continuations) == 0:
		execution.Status = models.ExecutionStatusCompleted
	default:
		execution.Status = models.ExecutionStatusRunning
	}

	if execution.Status.Terminal() {
		finishedAt := e.now().UTC()
		execution.FinishedAt = &finishedAt
	}

	err := e.executions.Save(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	for _, wakeUp := range r.wakeUps {
		err := e.timers.Schedule(ctx, wakeUp)
		if err != nil {
			return fmt.Errorf("failed to schedule wake-up %s: %w", wakeUp.ID, err)
		}
	}

	r.wakeUps = nil

	if !execution.Status.Terminal() {
		r.logger.InfoContext(ctx, "Execution suspended", "continuations", len(execution.Continuations))

		return nil
	}

	duration := execution.FinishedAt.Sub(execution.StartedAt)
	e.metrics.ExecutionFinished(string(execution.Status), duration)

	r.logger.InfoContext(ctx, "Execution finished", "status", execution.Status, "duration", duration)

	e.announce(ctx, execution, duration)

	return nil
}

func (e *Executor) announce(ctx context.Context, execution *models.WorkflowExecution, duration time.Duration) {
	if e.publisher == nil {
		return
	}

	key := execution.ConversationID
	if key == "" {
		key = execution.ID
	}

	err := e.publisher.Publish(ctx, key, events.ExecutionFinished{
		BaseEvent:    events.NewBaseEvent(e.publisher.GenerateID(), events.ExecutionFinishedEvent),
		ExecutionID:  execution.ID,
		WorkflowID:   execution.WorkflowID,
		Status:       execution.Status,
		ErrorMessage: execution.ErrorMessage,
		DurationMs:   duration.Milliseconds(),
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish execution finished event",
			"execution_id", execution.ID,
			"error", err)
	}
}
