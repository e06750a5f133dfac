package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedrelay/internal/infra/feedcache"
	"feedrelay/internal/pkg/config"
	"feedrelay/internal/usecase/check"
	"feedrelay/internal/usecase/deliver"
	"feedrelay/internal/usecase/dedupe"
	"feedrelay/internal/usecase/schedule"
)

// WorkerConfig holds the worker's operational settings.
//
// Configuration is loaded from the environment with LoadConfigFromEnv, which
// is fail-open: a missing value takes its default, and an invalid one takes
// its default with a warning and a fallback metric. The worker never refuses
// to start over a bad tunable.
type WorkerConfig struct {
	// Timezone is the IANA zone cron entries are evaluated in.
	// Default: "UTC"
	Timezone string

	// ReconcileInterval is the cadence of the quick reconcile pass.
	// Range: 1m-24h. Default: 30m
	ReconcileInterval time.Duration

	// ThoroughReconcileInterval is the cadence of the thorough pass, which
	// also repairs drifted entries and stale rows.
	// Range: 5m-168h. Default: 2h
	ThoroughReconcileInterval time.Duration

	// CheckTimeout bounds one feed check including its deliveries.
	// Range: 5s-30m. Default: 2m
	CheckTimeout time.Duration

	// DeliveryTimeout bounds one send attempt.
	// Range: 1s-5m. Default: 15s
	DeliveryTimeout time.Duration

	// MaxConcurrentChecks caps checks in flight across all feeds.
	// Range: 1-256. Default: 8
	MaxConcurrentChecks int

	// FeedFailureThreshold is the consecutive failure count past which a
	// feed is disabled.
	// Range: 1-1000. Default: 10
	FeedFailureThreshold int

	// MaxItemsPerCheck caps deliveries per check; older new items are
	// marked seen without delivery.
	// Range: 1-100. Default: 10
	MaxItemsPerCheck int

	// DedupeTTL is how long a seen item is remembered.
	// Range: 1h-8760h. Default: 720h
	DedupeTTL time.Duration

	// MaintenanceInterval is the cadence of breaker, limiter, recovery and
	// dedupe pruning.
	// Range: 1m-24h. Default: 10m
	MaintenanceInterval time.Duration

	// ReplayCapacity bounds the replay queue; overflow drops the oldest.
	// Range: 1-100000. Default: 1000
	ReplayCapacity int
	// ReplayBatchSize is the number of messages drained per tick.
	// Range: 1-1000. Default: 20
	ReplayBatchSize int
	// ReplayInterval is the drain cadence.
	// Range: 1s-1h. Default: 30s
	ReplayInterval time.Duration
	// ReplayTTL is the age, from first enqueue, at which a message is dropped.
	// Range: 1m-168h. Default: 6h
	ReplayTTL time.Duration

	// CacheCapacity is the number of feeds whose last response is cached.
	// Range: 1-1000000. Default: 1000
	CacheCapacity int

	// HealthPort serves /health and /health/ready.
	// Range: 1024-65535. Default: 9091
	HealthPort int
	// AdminPort serves /metrics and the /admin API.
	// Range: 1024-65535. Default: 9090
	AdminPort int

	// ResilienceConfig is the path of the resilience YAML file. Empty means
	// built-in defaults and no hot reload.
	ResilienceConfig string

	// RedisURL selects the Redis replay store. Empty means in-memory.
	RedisURL string
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		Timezone:                  "UTC",
		ReconcileInterval:         schedule.DefaultReconcileInterval,
		ThoroughReconcileInterval: schedule.DefaultThoroughInterval,
		CheckTimeout:              schedule.DefaultCheckTimeout,
		DeliveryTimeout:           15 * time.Second,
		MaxConcurrentChecks:       schedule.DefaultMaxConcurrent,
		FeedFailureThreshold:      check.DefaultFailureThreshold,
		MaxItemsPerCheck:          check.DefaultMaxItemsPerCheck,
		DedupeTTL:                 dedupe.DefaultTTL,
		MaintenanceInterval:       10 * time.Minute,
		ReplayCapacity:            deliver.DefaultReplayCapacity,
		ReplayBatchSize:           deliver.DefaultReplayBatchSize,
		ReplayInterval:            deliver.DefaultReplayInterval,
		ReplayTTL:                 deliver.DefaultReplayTTL,
		CacheCapacity:             feedcache.DefaultCapacity,
		HealthPort:                9091,
		AdminPort:                 9090,
	}
}

// Location returns the parsed Timezone. Validate guarantees it loads.
func (c *WorkerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks every field and reports all failures together.
func (c *WorkerConfig) Validate() error {
	var errs []error
	add := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	add("timezone", config.ValidateTimezone(c.Timezone))
	add("reconcile interval", config.ValidateDuration(c.ReconcileInterval, time.Minute, 24*time.Hour))
	add("thorough reconcile interval", config.ValidateDuration(c.ThoroughReconcileInterval, 5*time.Minute, 168*time.Hour))
	add("check timeout", config.ValidateDuration(c.CheckTimeout, 5*time.Second, 30*time.Minute))
	add("delivery timeout", config.ValidateDuration(c.DeliveryTimeout, time.Second, 5*time.Minute))
	add("max concurrent checks", config.ValidateIntRange(c.MaxConcurrentChecks, 1, 256))
	add("feed failure threshold", config.ValidateIntRange(c.FeedFailureThreshold, 1, 1000))
	add("max items per check", config.ValidateIntRange(c.MaxItemsPerCheck, 1, 100))
	add("dedupe ttl", config.ValidateDuration(c.DedupeTTL, time.Hour, 8760*time.Hour))
	add("maintenance interval", config.ValidateDuration(c.MaintenanceInterval, time.Minute, 24*time.Hour))
	add("replay capacity", config.ValidateIntRange(c.ReplayCapacity, 1, 100000))
	add("replay batch size", config.ValidateIntRange(c.ReplayBatchSize, 1, 1000))
	add("replay interval", config.ValidateDuration(c.ReplayInterval, time.Second, time.Hour))
	add("replay ttl", config.ValidateDuration(c.ReplayTTL, time.Minute, 168*time.Hour))
	add("cache capacity", config.ValidateIntRange(c.CacheCapacity, 1, 1000000))
	add("health port", config.ValidateIntRange(c.HealthPort, 1024, 65535))
	add("admin port", config.ValidateIntRange(c.AdminPort, 1024, 65535))
	if c.HealthPort == c.AdminPort {
		errs = append(errs, errors.New("health port and admin port must differ"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// loader applies fail-open loads and records each fallback.
type loader struct {
	logger   *slog.Logger
	metrics  *WorkerMetrics
	fallback bool
}

func (l *loader) note(field, key string, applied bool, warning string) {
	if !applied {
		return
	}
	l.fallback = true
	if l.metrics != nil {
		l.metrics.RecordFallback(field)
	}
	l.logger.Warn("configuration fallback applied",
		slog.String("field", field),
		slog.String("env_key", key),
		slog.String("warning", warning))
}

func loadInt(l *loader, field, key string, dst *int, min, max int) {
	r := config.Int(key, *dst, config.IntRange(min, max))
	*dst = r.Value
	l.note(field, key, r.FallbackApplied, r.Warning)
}

func loadDuration(l *loader, field, key string, dst *time.Duration, min, max time.Duration) {
	r := config.Duration(key, *dst, config.DurationRange(min, max))
	*dst = r.Value
	l.note(field, key, r.FallbackApplied, r.Warning)
}

// LoadConfigFromEnv loads WorkerConfig from the environment. It never fails;
// the error return is kept for callers that treat config loading uniformly.
//
// Environment variables:
//
//	WORKER_TIMEZONE, RECONCILE_INTERVAL, THOROUGH_RECONCILE_INTERVAL,
//	CHECK_TIMEOUT, DELIVERY_TIMEOUT, MAX_CONCURRENT_CHECKS,
//	FEED_FAILURE_THRESHOLD, MAX_ITEMS_PER_CHECK, DEDUPE_TTL,
//	MAINTENANCE_INTERVAL, REPLAY_CAPACITY, REPLAY_BATCH_SIZE,
//	REPLAY_INTERVAL, REPLAY_TTL, CACHE_CAPACITY, WORKER_HEALTH_PORT,
//	ADMIN_PORT, RESILIENCE_CONFIG, REDIS_URL
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()
	l := &loader{logger: logger, metrics: metrics}

	tz := config.String("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = tz.Value
	l.note("timezone", "WORKER_TIMEZONE", tz.FallbackApplied, tz.Warning)

	loadDuration(l, "reconcile_interval", "RECONCILE_INTERVAL", &cfg.ReconcileInterval, time.Minute, 24*time.Hour)
	loadDuration(l, "thorough_reconcile_interval", "THOROUGH_RECONCILE_INTERVAL", &cfg.ThoroughReconcileInterval, 5*time.Minute, 168*time.Hour)
	loadDuration(l, "check_timeout", "CHECK_TIMEOUT", &cfg.CheckTimeout, 5*time.Second, 30*time.Minute)
	loadDuration(l, "delivery_timeout", "DELIVERY_TIMEOUT", &cfg.DeliveryTimeout, time.Second, 5*time.Minute)
	loadInt(l, "max_concurrent_checks", "MAX_CONCURRENT_CHECKS", &cfg.MaxConcurrentChecks, 1, 256)
	loadInt(l, "feed_failure_threshold", "FEED_FAILURE_THRESHOLD", &cfg.FeedFailureThreshold, 1, 1000)
	loadInt(l, "max_items_per_check", "MAX_ITEMS_PER_CHECK", &cfg.MaxItemsPerCheck, 1, 100)
	loadDuration(l, "dedupe_ttl", "DEDUPE_TTL", &cfg.DedupeTTL, time.Hour, 8760*time.Hour)
	loadDuration(l, "maintenance_interval", "MAINTENANCE_INTERVAL", &cfg.MaintenanceInterval, time.Minute, 24*time.Hour)
	loadInt(l, "replay_capacity", "REPLAY_CAPACITY", &cfg.ReplayCapacity, 1, 100000)
	loadInt(l, "replay_batch_size", "REPLAY_BATCH_SIZE", &cfg.ReplayBatchSize, 1, 1000)
	loadDuration(l, "replay_interval", "REPLAY_INTERVAL", &cfg.ReplayInterval, time.Second, time.Hour)
	loadDuration(l, "replay_ttl", "REPLAY_TTL", &cfg.ReplayTTL, time.Minute, 168*time.Hour)
	loadInt(l, "cache_capacity", "CACHE_CAPACITY", &cfg.CacheCapacity, 1, 1000000)
	loadInt(l, "health_port", "WORKER_HEALTH_PORT", &cfg.HealthPort, 1024, 65535)
	loadInt(l, "admin_port", "ADMIN_PORT", &cfg.AdminPort, 1024, 65535)

	if cfg.HealthPort == cfg.AdminPort {
		def := DefaultConfig()
		cfg.HealthPort, cfg.AdminPort = def.HealthPort, def.AdminPort
		l.note("ports", "ADMIN_PORT", true, "health and admin ports collide, using defaults for both")
	}

	cfg.ResilienceConfig = config.String("RESILIENCE_CONFIG", "", nil).Value
	cfg.RedisURL = config.String("REDIS_URL", "", nil).Value

	if metrics != nil {
		metrics.Loaded(time.Now(), l.fallback)
	}
	return &cfg, nil
}
