// Package workerpool runs tasks on a fixed set of lanes. Tasks sharing a key
// always land on the same lane and run in submission order; tasks with
// different keys run concurrently.
package workerpool

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrPoolShutdown = errors.New("worker pool is shut down")

const defaultQueueSize = 64

// Task is a unit of work. Its context keeps the submitter's values but not
// its cancellation.
type Task func(ctx context.Context) error

type Metrics struct {
	Queued    int64 `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

type job struct {
	ctx  context.Context
	key  string
	task Task
}

type Pool struct {
	lanes   []chan job
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	metrics Metrics
}

// New starts a pool with the given number of lanes, each buffering up to
// queueSize tasks before Submit blocks.
func New(lanes, queueSize int, logger *slog.Logger) *Pool {
	if lanes <= 0 {
		lanes = 1
	}

	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool{
		lanes:  make([]chan job, lanes),
		logger: logger.With("module", "worker_pool"),
		done:   make(chan struct{}),
	}

	for i := range p.lanes {
		p.lanes[i] = make(chan job, queueSize)

		p.wg.Add(1)

		go p.run(p.lanes[i])
	}

	return p
}

func (p *Pool) lane(key string) chan job {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return p.lanes[h.Sum32()%uint32(len(p.lanes))]
}

// Submit queues task on the lane of key. It blocks while the lane is full and
// gives up when ctx ends or the pool shuts down.
func (p *Pool) Submit(ctx context.Context, key string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolShutdown
	}

	select {
	case p.lane(key) <- job{ctx: context.WithoutCancel(ctx), key: key, task: task}:
		atomic.AddInt64(&p.metrics.Queued, 1)

		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}
}

func (p *Pool) run(lane chan job) {
	defer p.wg.Done()

	for j := range lane {
		p.execute(j)
	}
}

func (p *Pool) execute(j job) {
	defer func() {
		atomic.AddInt64(&p.metrics.Queued, -1)

		if r := recover(); r != nil {
			atomic.AddInt64(&p.metrics.Panics, 1)
			atomic.AddInt64(&p.metrics.Failed, 1)

			p.logger.ErrorContext(j.ctx, "Task panicked", "key", j.key, "panic", r)
		}
	}()

	err := j.task(j.ctx)
	if err != nil {
		atomic.AddInt64(&p.metrics.Failed, 1)

		p.logger.ErrorContext(j.ctx, "Task failed", "key", j.key, "error", err)

		return
	}

	atomic.AddInt64(&p.metrics.Completed, 1)
}

// Shutdown stops accepting tasks and waits until queued tasks finish or ctx
// ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)

		for _, lane := range p.lanes {
			close(lane)
		}
	}
	p.mu.Unlock()

	drained := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Metrics() Metrics {
	return Metrics{
		Queued:    atomic.LoadInt64(&p.metrics.Queued),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
