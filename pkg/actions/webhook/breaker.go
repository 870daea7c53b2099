package webhook

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/engageflow/pkg/metrics"
	"github.com/sony/gobreaker"
)

const (
	defaultTripAfter    = 5
	defaultOpenInterval = 30 * time.Second
)

// Breakers keeps one circuit breaker per destination host, shared by every
// webhook action built by the same factory.
type Breakers struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	tripAfter uint32
	openFor   time.Duration
	metrics   *metrics.Collector
	logger    *slog.Logger
}

type BreakerOption func(*Breakers)

// WithTripAfter opens a breaker after n consecutive failures.
func WithTripAfter(n uint32) BreakerOption {
	return func(b *Breakers) {
		if n > 0 {
			b.tripAfter = n
		}
	}
}

// WithOpenInterval sets how long an open breaker rejects calls before probing.
func WithOpenInterval(d time.Duration) BreakerOption {
	return func(b *Breakers) {
		if d > 0 {
			b.openFor = d
		}
	}
}

func WithBreakerMetrics(collector *metrics.Collector) BreakerOption {
	return func(b *Breakers) {
		b.metrics = collector
	}
}

func NewBreakers(logger *slog.Logger, opts ...BreakerOption) *Breakers {
	b := &Breakers{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		tripAfter: defaultTripAfter,
		openFor:   defaultOpenInterval,
		logger:    logger.With("module", "webhook_breakers"),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Breakers) get(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, ok := b.breakers[host]; ok {
		return breaker
	}

	tripAfter := b.tripAfter

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("webhook-%s", host),
		MaxRequests: 1,
		Timeout:     b.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Info("Circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String())
			b.metrics.BreakerStateChanged(host, int(to))
		},
	})

	b.breakers[host] = breaker

	return breaker
}

// State reports the breaker state of host; hosts never called are closed.
func (b *Breakers) State(host string) gobreaker.State {
	b.mu.Lock()
	defer b.mu.Unlock()

	breaker, ok := b.breakers[host]
	if !ok {
		return gobreaker.StateClosed
	}

	return breaker.State()
}
