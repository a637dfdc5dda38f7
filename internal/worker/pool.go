package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/config"
	"github.com/ricirt/queue-system/internal/hub"
	"github.com/ricirt/queue-system/internal/publisher"
	"github.com/ricirt/queue-system/internal/ratelimiter"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnForwarded func(sink string, latency time.Duration)
	OnFailed    func(sink string)
}

// Runner is a background loop that stops when its context is cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// Pool manages the lifecycle of all background loops: one forwarder per
// configured sink plus any extra runners such as the requeue sweep.
type Pool struct {
	runners []Runner
	wg      sync.WaitGroup
}

// NewPool creates one forwarder per sink. Each sink is rate limited under
// its own name.
func NewPool(
	cfg *config.Config,
	h *hub.Hub,
	sinks []publisher.Sink,
	limiter *ratelimiter.KeyedLimiters,
	logger *zap.Logger,
	hooks MetricHooks,
	extra ...Runner,
) *Pool {
	runners := make([]Runner, 0, len(sinks)+len(extra))
	for _, sink := range sinks {
		runners = append(runners, NewForwarder(
			h, sink, limiter,
			cfg.RetryBackoff,
			logger.With(zap.String("component", "forwarder")),
			hooks.OnForwarded,
			hooks.OnFailed,
		))
	}
	runners = append(runners, extra...)
	return &Pool{runners: runners}
}

// Start launches all runners as goroutines.
// The provided ctx is forwarded to every runner; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, r := range p.runners {
		p.wg.Add(1)
		go func(r Runner) {
			defer p.wg.Done()
			r.Run(ctx)
		}(r)
	}
}

// Wait blocks until every runner has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Len returns the number of managed runners.
func (p *Pool) Len() int {
	return len(p.runners)
}
