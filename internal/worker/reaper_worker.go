package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/service"
)

// ReaperWorker deletes completed and cancelled tickets once they are older
// than the retention period, keeping the ticket set bounded. History is
// bounded separately by the journal.
type ReaperWorker struct {
	svc       *service.Dispatcher
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

func NewReaperWorker(
	svc *service.Dispatcher,
	retention time.Duration,
	interval time.Duration,
	logger *zap.Logger,
) *ReaperWorker {
	return &ReaperWorker{svc: svc, retention: retention, interval: interval, logger: logger}
}

// Run ticks every interval and removes expired terminal tickets.
// Stops cleanly when ctx is cancelled.
func (rw *ReaperWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reaper worker started",
		zap.Duration("interval", rw.interval), zap.Duration("retention", rw.retention))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reaper worker stopping")
			return
		case <-ticker.C:
			rw.Reap(ctx)
		}
	}
}

// Reap runs one pass and returns how many tickets were removed.
func (rw *ReaperWorker) Reap(ctx context.Context) int {
	n, err := rw.svc.ReapTerminated(ctx, rw.retention)
	if err != nil {
		rw.logger.Error("reap error", zap.Error(err))
	}
	if n > 0 {
		rw.logger.Info("removed terminated tickets", zap.Int("count", n))
	}
	return n
}
