package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"feedrelay/internal/config"
	"feedrelay/internal/infra/adapter/persistence/postgres"
	"feedrelay/internal/infra/adapter/redisqueue"
	"feedrelay/internal/infra/chat"
	"feedrelay/internal/infra/db"
	"feedrelay/internal/infra/feedcache"
	"feedrelay/internal/infra/feedsource"
	workerPkg "feedrelay/internal/infra/worker"
	"feedrelay/internal/observability/logging"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/retry"
	"feedrelay/internal/usecase/check"
	"feedrelay/internal/usecase/dedupe"
	"feedrelay/internal/usecase/deliver"
	"feedrelay/internal/usecase/feed"
	"feedrelay/internal/usecase/schedule"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Fail-open: invalid values fall back per field.
	workerMetrics := workerPkg.NewWorkerMetrics(prometheus.DefaultRegisterer)
	cfg, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		return fmt.Errorf("load worker configuration: %w", err)
	}
	logger.Info("worker configuration loaded",
		slog.String("timezone", cfg.Timezone),
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("thorough_reconcile_interval", cfg.ThoroughReconcileInterval),
		slog.Int("max_concurrent_checks", cfg.MaxConcurrentChecks),
		slog.Int("health_port", cfg.HealthPort),
		slog.Int("admin_port", cfg.AdminPort))

	// The resilience file is the one setting that fails startup when invalid.
	res, err := config.LoadResilience(cfg.ResilienceConfig)
	if err != nil {
		return fmt.Errorf("load resilience config: %w", err)
	}
	rs, err := newResilience(res, logger)
	if err != nil {
		return err
	}

	database, err := openDatabase(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	dbBreaker := circuitbreaker.NewDBCircuitBreaker(database)
	feedRepo := postgres.NewFeedRepo(database)
	scheduleRepo := postgres.NewScheduleRepo(dbBreaker)
	dedupeRepo := postgres.NewDedupeRepo(dbBreaker)

	dd := dedupe.New(dedupeRepo, dedupe.Config{TTL: cfg.DedupeTTL, Logger: logger})
	if n, err := dd.Load(ctx); err != nil {
		logger.Warn("dedupe history not loaded, starting empty", slog.Any("error", err))
	} else {
		logger.Info("dedupe history loaded", slog.Int("records", n))
	}

	cache, err := feedcache.New(cfg.CacheCapacity, nil)
	if err != nil {
		return fmt.Errorf("create feed cache: %w", err)
	}

	store, redisClient, err := openReplayStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	queue := deliver.NewReplayQueue(store, deliver.ReplayConfig{
		BatchSize: cfg.ReplayBatchSize,
		Interval:  cfg.ReplayInterval,
		TTL:       cfg.ReplayTTL,
		Logger:    logger,
	})

	chatClient, err := chat.NewClient(chat.ConfigFromEnv(logger))
	if err != nil {
		return fmt.Errorf("create chat client: %w", err)
	}
	delivery := deliver.NewHandler(chatClient, deliver.Deps{
		Backoff:  rs.backoff,
		Breakers: rs.breakers,
		Recovery: rs.recovery,
		Limiter:  rs.limiter,
		Queue:    queue,
	}, deliver.Config{Timeout: cfg.DeliveryTimeout, Logger: logger})

	runner := check.NewRunner(check.Deps{
		Feeds:    feedRepo,
		Fetcher:  feedsource.NewFetcher(feedsource.DefaultConfig()),
		Decoder:  feedsource.Decoder{},
		Cache:    cache,
		Dedupe:   dd,
		Delivery: delivery,
		Breakers: rs.breakers,
		Recovery: rs.recovery,
		Limiter:  rs.limiter,
	}, check.Config{
		FailureThreshold: cfg.FeedFailureThreshold,
		MaxItemsPerCheck: cfg.MaxItemsPerCheck,
		FetchTimeout:     cfg.CheckTimeout,
		DedupeTTL:        cfg.DedupeTTL,
	})

	sched := schedule.New(feedRepo, scheduleRepo, runner.Check, schedule.Config{
		ReconcileInterval: cfg.ReconcileInterval,
		ThoroughInterval:  cfg.ThoroughReconcileInterval,
		MaxConcurrent:     int64(cfg.MaxConcurrentChecks),
		CheckTimeout:      cfg.CheckTimeout,
		Location:          cfg.Location(),
		Logger:            logger,
	})
	queue.SetFilter(func(msg deliver.Message) bool { return sched.IsScheduled(msg.FeedID) })

	feeds := &feed.Service{Repo: feedRepo, Scheduler: sched, Dedupe: dd, Logger: logger}

	report, err := sched.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	logger.Info("schedule loaded",
		slog.Int("registered", report.Registered),
		slog.Int("created", report.Created),
		slog.Int("orphans_removed", report.OrphansRemoved))

	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	m := &maintenance{
		db:       database,
		breakers: rs.breakers,
		limiter:  rs.limiter,
		recovery: rs.recovery,
		dedupe:   dd,
		metrics:  workerMetrics,
		logger:   logger,
	}
	if err := sched.Every(cfg.MaintenanceInterval, "maintenance", m.run); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}

	g.Go(func() error {
		return queue.Run(gctx, delivery.Redeliver)
	})

	if cfg.ResilienceConfig != "" {
		w := config.NewWatcher(cfg.ResilienceConfig, res, rs.apply, logger)
		g.Go(func() error { return w.Run(gctx) })
	}

	health := workerPkg.NewHealthServer(fmt.Sprintf(":%d", cfg.HealthPort), logger)
	health.AddCheck("database", database.PingContext)
	if redisClient != nil {
		health.AddCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	g.Go(func() error { return health.Start(gctx) })

	admin := newAdminServer(fmt.Sprintf(":%d", cfg.AdminPort), adminDeps{
		feeds:    feeds,
		sched:    sched,
		res:      rs,
		queue:    queue,
		logger:   logger,
		maxBytes: adminMaxBodyBytes,
	})
	g.Go(func() error { return workerPkg.Serve(gctx, admin, "admin", logger) })

	health.SetReady(true)
	logger.Info("worker started", slog.Int("scheduled", sched.Len()))

	<-gctx.Done()
	logger.Info("worker shutting down")
	health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sched.Stop(shutdownCtx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openDatabase connects with the startup retry policy and migrates. A
// missing DATABASE_URL is not retried.
func openDatabase(ctx context.Context, logger *slog.Logger) (*sql.DB, error) {
	var database *sql.DB
	err := retry.WithBackoff(ctx, retry.StartupConfig(), func() error {
		var err error
		database, err = db.Open(ctx)
		if err != nil && retry.IsRetryable(err) {
			logger.Info("database not ready, retrying", slog.Any("error", err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.MigrateUp(ctx, database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return database, nil
}

// openReplayStore returns the Redis store when REDIS_URL is set and the
// in-memory store otherwise.
func openReplayStore(ctx context.Context, cfg *workerPkg.WorkerConfig, logger *slog.Logger) (deliver.Store, *redis.Client, error) {
	if cfg.RedisURL == "" {
		logger.Info("replay queue in memory", slog.Int("capacity", cfg.ReplayCapacity))
		return deliver.NewMemoryStore(cfg.ReplayCapacity), nil, nil
	}
	client, err := redisqueue.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("replay queue in redis", slog.Int("capacity", cfg.ReplayCapacity))
	return redisqueue.New(client, redisqueue.DefaultKey, cfg.ReplayCapacity), client, nil
}
