package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/service"
)

// RequeueWorker returns Called tickets to the waiting set when nobody
// answered the call within the timeout.
//
// The sweep goes through the dispatcher, so it takes the same per-queue lock
// as every other mutation and cannot interleave with a concurrent call.
type RequeueWorker struct {
	svc      *service.Dispatcher
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewRequeueWorker(
	svc *service.Dispatcher,
	timeout time.Duration,
	interval time.Duration,
	logger *zap.Logger,
) *RequeueWorker {
	return &RequeueWorker{svc: svc, timeout: timeout, interval: interval, logger: logger}
}

// Run ticks every interval and requeues expired calls.
// Stops cleanly when ctx is cancelled.
func (rw *RequeueWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("requeue worker started",
		zap.Duration("interval", rw.interval), zap.Duration("call_timeout", rw.timeout))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("requeue worker stopping")
			return
		case <-ticker.C:
			rw.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many tickets were requeued.
func (rw *RequeueWorker) Sweep(ctx context.Context) int {
	n, err := rw.svc.RequeueExpired(ctx, rw.timeout)
	if err != nil {
		rw.logger.Error("requeue sweep error", zap.Error(err))
	}
	if n > 0 {
		rw.logger.Info("requeued expired calls", zap.Int("count", n))
	}
	return n
}
