package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/domain"
	"github.com/ricirt/queue-system/internal/hub"
	"github.com/ricirt/queue-system/internal/publisher"
	"github.com/ricirt/queue-system/internal/ratelimiter"
)

// Forwarder is a single goroutine that follows every queue through a hub
// subscription and delivers each event to one sink, applying the per-sink
// rate limit and retrying failed deliveries with backoff.
type Forwarder struct {
	hub     *hub.Hub
	sink    publisher.Sink
	limiter *ratelimiter.KeyedLimiters
	backoff []time.Duration
	logger  *zap.Logger

	// Hooks for metrics, injected by the pool so the forwarder stays metrics-agnostic.
	onForwarded func(sink string, latency time.Duration)
	onFailed    func(sink string)
}

// NewForwarder constructs a forwarder. onForwarded and onFailed are optional (nil = no-op).
func NewForwarder(
	h *hub.Hub,
	sink publisher.Sink,
	limiter *ratelimiter.KeyedLimiters,
	backoff []time.Duration,
	logger *zap.Logger,
	onForwarded func(string, time.Duration),
	onFailed func(string),
) *Forwarder {
	if onForwarded == nil {
		onForwarded = func(string, time.Duration) {}
	}
	if onFailed == nil {
		onFailed = func(string) {}
	}
	return &Forwarder{
		hub: h, sink: sink, limiter: limiter, backoff: backoff, logger: logger,
		onForwarded: onForwarded, onFailed: onFailed,
	}
}

// Run blocks until ctx is cancelled or the hub closes, delivering one event
// per iteration. A subscription dropped for falling behind is replaced.
func (f *Forwarder) Run(ctx context.Context) {
	f.logger.Info("forwarder started", zap.String("sink", f.sink.Name()))
	defer f.logger.Info("forwarder stopping", zap.String("sink", f.sink.Name()))

	for {
		sub := f.hub.Subscribe("")
		if !f.consume(ctx, sub) {
			return
		}
	}
}

// consume drains sub and reports whether Run should resubscribe.
func (f *Forwarder) consume(ctx context.Context, sub *hub.Subscription) bool {
	defer f.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), domain.ErrSubscriberOverflow) {
					f.logger.Warn("forwarder fell behind, events were skipped; resubscribing",
						zap.String("sink", f.sink.Name()))
					return ctx.Err() == nil
				}
				return false
			}
			f.deliver(ctx, ev)
		}
	}
}

// deliver publishes ev, retrying on failure.
//
// Retry schedule:
//
//	attempt 0 fails → wait backoff[0]  (default 500 ms)
//	attempt 1 fails → wait backoff[1]  (default 2 s)
//	attempt 2 fails → wait backoff[2]  (default 5 s)
//	after len(backoff) retries the event is dropped and counted as failed.
func (f *Forwarder) deliver(ctx context.Context, ev domain.Event) {
	start := time.Now()
	name := f.sink.Name()
	log := f.logger.With(
		zap.String("sink", name),
		zap.String("queue_id", ev.QueueID),
		zap.Uint64("seq", ev.Seq),
		zap.String("event", string(ev.Type)),
	)

	// Block here until the per-sink rate limiter grants a token.
	if err := f.limiter.Wait(ctx, name); err != nil {
		return
	}

	for attempt := 0; ; attempt++ {
		err := f.sink.Publish(ctx, ev)
		if err == nil {
			f.onForwarded(name, time.Since(start))
			log.Debug("event forwarded", zap.Int("attempt", attempt))
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= len(f.backoff) {
			f.onFailed(name)
			log.Error("event dropped after retries", zap.Int("attempts", attempt+1), zap.Error(err))
			return
		}

		log.Warn("sink publish failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.backoff[attempt]):
		}
	}
}
