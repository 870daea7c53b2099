// Package schedule turns the cron schedules of scheduled When nodes into
// scheduled_tick events.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/engageflow/pkg/ingest"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// DefaultSyncInterval is how often schedules are re-read from persistence.
const DefaultSyncInterval = 30 * time.Second

// Parser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @hourly.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a When node schedule.
func ParseSchedule(expression string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expression, err)
	}

	return schedule, nil
}

// TickID is the event id of a tick. Every worker firing the same tick derives
// the same id, so ingestion keeps one of them.
func TickID(workflowID, nodeID string, at time.Time) string {
	return fmt.Sprintf("scheduled:%s:%s:%d", workflowID, nodeID, at.Unix())
}

// Ingester accepts tick events.
type Ingester interface {
	Ingest(ctx context.Context, event ingest.Event) (*models.EventLog, error)
}

type entry struct {
	id       cron.EntryID
	spec     string
	owner    string
	workflow string
	node     string
}

// Scheduler keeps one cron entry per scheduled When node of every active
// workflow.
type Scheduler struct {
	workflows persistence.WorkflowRepository
	ingester  Ingester
	cron      *cron.Cron
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
}

func NewScheduler(workflows persistence.WorkflowRepository, ingester Ingester, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	logger = logger.With("module", "scheduler")
	cronLog := cronLogger{logger: logger}

	return &Scheduler{
		workflows: workflows,
		ingester:  ingester,
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		interval: interval,
		logger:   logger,
		entries:  make(map[string]entry),
	}
}

// Run synchronises schedules every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	err := s.Sync(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to synchronise schedules", "error", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "sync_interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("Scheduler stopped")

			return
		case <-ticker.C:
			err := s.Sync(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to synchronise schedules", "error", err)
			}
		}
	}
}

// Sync adds entries for new or changed schedules and removes the entries of
// nodes that are gone, inactive or whose workflow is no longer active.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.workflows.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	desired := make(map[string]entry)

	for _, workflow := range workflows {
		if workflow.Status != models.WorkflowStatusActive {
			continue
		}

		for _, node := range workflow.WhenNodes() {
			if !node.IsActive || node.When == nil || node.When.WhenType != models.EventScheduledTick || node.When.Schedule == "" {
				continue
			}

			desired[workflow.ID+"/"+node.ID] = entry{
				spec:     node.When.Schedule,
				owner:    workflow.Owner,
				workflow: workflow.ID,
				node:     node.ID,
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, current := range s.entries {
		wanted, ok := desired[key]
		if ok && wanted.spec == current.spec && wanted.owner == current.owner {
			continue
		}

		s.cron.Remove(current.id)
		delete(s.entries, key)
	}

	for key, wanted := range desired {
		if _, ok := s.entries[key]; ok {
			continue
		}

		job := &tickJob{scheduler: s, workflow: wanted.workflow, node: wanted.node, owner: wanted.owner}

		id, err := s.cron.AddJob(wanted.spec, job)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping invalid schedule",
				"workflow_id", wanted.workflow,
				"node_id", wanted.node,
				"schedule", wanted.spec,
				"error", err)

			continue
		}

		job.id = id
		wanted.id = id
		s.entries[key] = wanted
	}

	return nil
}

// Entries returns the number of scheduled nodes.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Fire ingests the tick of a scheduled node for the slot at.
func (s *Scheduler) Fire(ctx context.Context, workflowID, nodeID, owner string, at time.Time) error {
	at = at.UTC().Truncate(time.Second)

	_, err := s.ingester.Ingest(ctx, ingest.Event{
		EventID:   TickID(workflowID, nodeID, at),
		EventType: models.EventScheduledTick,
		TenantID:  owner,
		Data: map[string]any{
			"workflow_id":  workflowID,
			"node_id":      nodeID,
			"scheduled_at": at.Format(time.RFC3339),
		},
	})
	if err != nil {
		if ingest.IsDuplicate(err) {
			s.logger.DebugContext(ctx, "Tick already ingested by another worker",
				"workflow_id", workflowID,
				"node_id", nodeID)

			return nil
		}

		return fmt.Errorf("failed to ingest tick: %w", err)
	}

	return nil
}

type tickJob struct {
	scheduler *Scheduler
	id        cron.EntryID
	workflow  string
	node      string
	owner     string
}

func (j *tickJob) Run() {
	at := j.scheduler.cron.Entry(j.id).Prev
	if at.IsZero() {
		at = time.Now()
	}

	err := j.scheduler.Fire(context.Background(), j.workflow, j.node, j.owner, at)
	if err != nil {
		j.scheduler.logger.Error("Failed to fire schedule",
			"workflow_id", j.workflow,
			"node_id", j.node,
			"error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
