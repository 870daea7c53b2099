package timer

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultBatchSize = 100
	minRetryDelay    = time.Second
)

// Poller claims due wake-ups on an interval and hands each to Fire.
type Poller struct {
	store    Store
	interval time.Duration
	fire     func(ctx context.Context, wakeUp WakeUp) error
	logger   *slog.Logger
	now      func() time.Time
}

func NewPoller(store Store, interval time.Duration, fire func(ctx context.Context, wakeUp WakeUp) error, logger *slog.Logger) *Poller {
	return &Poller{
		store:    store,
		interval: interval,
		fire:     fire,
		logger:   logger.With("module", "timer_poller"),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "Timer poller started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Timer poller stopped")

			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fires every wake-up due now and returns how many were fired.
func (p *Poller) Poll(ctx context.Context) int {
	fired := 0

	for {
		wakeUps, err := p.store.ClaimDue(ctx, p.now(), defaultBatchSize)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to claim due wake-ups", "error", err)
		}

		for _, wakeUp := range wakeUps {
			err := p.fire(ctx, wakeUp)
			if err != nil {
				p.logger.ErrorContext(ctx, "Failed to fire wake-up",
					"wake_up_id", wakeUp.ID,
					"execution_id", wakeUp.ExecutionID,
					"error", err,
				)

				p.retry(ctx, wakeUp)

				continue
			}

			fired++
		}

		if err != nil || len(wakeUps) < defaultBatchSize {
			return fired
		}
	}
}

// retry puts a claimed wake-up back one interval later; without it the
// continuation would stay pending with nothing left to resume it.
func (p *Poller) retry(ctx context.Context, wakeUp WakeUp) {
	delay := p.interval
	if delay < minRetryDelay {
		delay = minRetryDelay
	}

	wakeUp.DueAt = p.now().Add(delay)

	err := p.store.Schedule(ctx, wakeUp)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to reschedule wake-up",
			"wake_up_id", wakeUp.ID,
			"execution_id", wakeUp.ExecutionID,
			"error", err,
		)
	}
}
