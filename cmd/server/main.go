package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ricirt/queue-system/internal/api"
	"github.com/ricirt/queue-system/internal/clock"
	"github.com/ricirt/queue-system/internal/config"
	"github.com/ricirt/queue-system/internal/db"
	"github.com/ricirt/queue-system/internal/hub"
	"github.com/ricirt/queue-system/internal/metrics"
	"github.com/ricirt/queue-system/internal/publisher"
	"github.com/ricirt/queue-system/internal/ratelimiter"
	"github.com/ricirt/queue-system/internal/repository"
	"github.com/ricirt/queue-system/internal/service"
	"github.com/ricirt/queue-system/internal/store"
	"github.com/ricirt/queue-system/internal/worker"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		// The logger is configured from cfg, so fall back to a production one.
		l, _ := zap.NewProduction()
		l.Fatal("failed to load config", zap.Error(err))
	}

	logger, _ := zap.NewProduction()
	if cfg.LogDevelopment {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// ---- storage ----
	journal, closeJournal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}
	closers = append(closers, closeJournal)

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clk := clock.Real()
	events := hub.New(cfg.SubscriberBuffer, m.HubDropHook())

	st := store.New(store.Options{Journal: journal, Sink: events, Clock: clk})
	if err := st.Load(ctx); err != nil {
		logger.Fatal("failed to restore queues", zap.Error(err))
	}

	svc := service.NewDispatcher(
		st, journal,
		ratelimiter.New(cfg.AdmissionRate),
		clk,
		logger.With(zap.String("component", "dispatcher")),
		service.Hooks(m.ServiceHooks()),
	)

	if cfg.QueuesFile != "" {
		seeds, err := config.LoadQueueSeeds(cfg.QueuesFile)
		if err != nil {
			logger.Fatal("failed to read queues file", zap.Error(err))
		}
		if err := svc.EnsureQueues(ctx, seeds); err != nil {
			logger.Fatal("failed to seed queues", zap.Error(err))
		}
	}
	for _, q := range svc.ListQueues() {
		if s, err := svc.Stats(q.ID); err == nil {
			m.SetWaiting(q.Name, s.Waiting)
		}
	}
	logger.Info("queues ready", zap.Int("count", len(svc.ListQueues())))

	// ---- event sinks ----
	sinks, closeSinks := openSinks(ctx, cfg, logger)
	closers = append(closers, closeSinks)

	// ---- background workers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onForwarded, onFailed := m.ForwarderHooks()
	pool := worker.NewPool(cfg, events, sinks, ratelimiter.New(cfg.ForwardRate), logger,
		worker.MetricHooks{
			OnForwarded: onForwarded,
			OnFailed:    onFailed,
		},
		worker.NewRequeueWorker(svc, cfg.CallTimeout, cfg.SweepInterval, logger),
		worker.NewReaperWorker(svc, cfg.Retention, cfg.ReapInterval, logger),
	)
	pool.Start(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(svc, events, reg, cfg.SSEKeepAlive, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	// Event streams never go idle on their own; closing the hub ends them.
	srv.RegisterOnShutdown(events.Close)

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests and end event streams.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal sweeps and forwarders to stop.
	cancelWorkers()

	// 3. Wait for in-flight deliveries to finish.
	pool.Wait()

	logger.Info("server stopped cleanly")
}

// openJournal selects the persistence backend named by STORAGE_DRIVER.
func openJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Journal, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		if err := db.MigratePostgres(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		logger.Info("database migrations applied")
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPgJournal(pool), pool.Close, nil

	case config.DriverSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite database ready", zap.String("path", cfg.SQLitePath))
		j := repository.NewSQLiteJournal(conn)
		return j, func() { _ = j.Close() }, nil

	default:
		logger.Warn("using in-memory storage: state is lost on restart",
			zap.Int("history_limit", cfg.MemoryHistoryLimit))
		return repository.NewMemoryJournalWithHistoryCap(cfg.MemoryHistoryLimit), func() {}, nil
	}
}

// openSinks connects every configured event sink. A sink that cannot be
// reached at start-up is logged and skipped so the queue service still runs.
func openSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]publisher.Sink, func()) {
	var (
		sinks   []publisher.Sink
		closers []func()
	)

	if cfg.RedisURL != "" {
		rdb, err := publisher.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, publisher.NewRedisSink(rdb, cfg.RedisStream))
			closers = append(closers, func() { _ = rdb.Close() })
		}
	}

	if cfg.AMQPURL != "" {
		sink, err := publisher.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("amqp sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
			closers = append(closers, func() { _ = sink.Close() })
		}
	}

	if cfg.WebhookURL != "" {
		sinks = append(sinks, publisher.NewWebhookSink(cfg.WebhookURL, cfg.WebhookTimeout))
	}

	for _, s := range sinks {
		logger.Info("event sink enabled", zap.String("sink", s.Name()))
	}
	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
