package worker

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *WorkerMetrics {
	return NewWorkerMetrics(prometheus.NewRegistry())
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Nowhere/Land"
	cfg.MaxConcurrentChecks = 0
	cfg.ReplayTTL = time.Second
	cfg.AdminPort = cfg.HealthPort

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"timezone", "max concurrent checks", "replay ttl", "must differ"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	m := newTestMetrics()

	cfg, err := LoadConfigFromEnv(slog.New(slog.DiscardHandler), m)

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FallbackActive))
	assert.NotZero(t, testutil.ToFloat64(m.LoadTimestamp))
}

func TestLoadConfigFromEnv_ValidValues(t *testing.T) {
	env := map[string]string{
		"WORKER_TIMEZONE":             "Asia/Tokyo",
		"RECONCILE_INTERVAL":          "15m",
		"THOROUGH_RECONCILE_INTERVAL": "6h",
		"CHECK_TIMEOUT":               "90s",
		"DELIVERY_TIMEOUT":            "5s",
		"MAX_CONCURRENT_CHECKS":       "32",
		"FEED_FAILURE_THRESHOLD":      "5",
		"MAX_ITEMS_PER_CHECK":         "3",
		"DEDUPE_TTL":                  "168h",
		"MAINTENANCE_INTERVAL":        "5m",
		"REPLAY_CAPACITY":             "200",
		"REPLAY_BATCH_SIZE":           "50",
		"REPLAY_INTERVAL":             "10s",
		"REPLAY_TTL":                  "1h",
		"CACHE_CAPACITY":              "5000",
		"WORKER_HEALTH_PORT":          "8081",
		"ADMIN_PORT":                  "8082",
		"RESILIENCE_CONFIG":           "/etc/feedrelay/resilience.yaml",
		"REDIS_URL":                   "redis://localhost:6379/0",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	m := newTestMetrics()

	cfg, err := LoadConfigFromEnv(slog.New(slog.DiscardHandler), m)
	require.NoError(t, err)

	want := WorkerConfig{
		Timezone:                  "Asia/Tokyo",
		ReconcileInterval:         15 * time.Minute,
		ThoroughReconcileInterval: 6 * time.Hour,
		CheckTimeout:              90 * time.Second,
		DeliveryTimeout:           5 * time.Second,
		MaxConcurrentChecks:       32,
		FeedFailureThreshold:      5,
		MaxItemsPerCheck:          3,
		DedupeTTL:                 168 * time.Hour,
		MaintenanceInterval:       5 * time.Minute,
		ReplayCapacity:            200,
		ReplayBatchSize:           50,
		ReplayInterval:            10 * time.Second,
		ReplayTTL:                 time.Hour,
		CacheCapacity:             5000,
		HealthPort:                8081,
		AdminPort:                 8082,
		ResilienceConfig:          "/etc/feedrelay/resilience.yaml",
		RedisURL:                  "redis://localhost:6379/0",
	}
	assert.Equal(t, want, *cfg)
	assert.Equal(t, "Asia/Tokyo", cfg.Location().String())
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FallbackActive))
}

func TestLoadConfigFromEnv_FallbackPerField(t *testing.T) {
	tests := []struct {
		key   string
		value string
		field string
		get   func(*WorkerConfig) any
	}{
		{"WORKER_TIMEZONE", "Mars/Base", "timezone", func(c *WorkerConfig) any { return c.Timezone }},
		{"RECONCILE_INTERVAL", "10s", "reconcile_interval", func(c *WorkerConfig) any { return c.ReconcileInterval }},
		{"CHECK_TIMEOUT", "soon", "check_timeout", func(c *WorkerConfig) any { return c.CheckTimeout }},
		{"MAX_CONCURRENT_CHECKS", "0", "max_concurrent_checks", func(c *WorkerConfig) any { return c.MaxConcurrentChecks }},
		{"FEED_FAILURE_THRESHOLD", "many", "feed_failure_threshold", func(c *WorkerConfig) any { return c.FeedFailureThreshold }},
		{"MAX_ITEMS_PER_CHECK", "1000", "max_items_per_check", func(c *WorkerConfig) any { return c.MaxItemsPerCheck }},
		{"DEDUPE_TTL", "1m", "dedupe_ttl", func(c *WorkerConfig) any { return c.DedupeTTL }},
		{"REPLAY_CAPACITY", "-1", "replay_capacity", func(c *WorkerConfig) any { return c.ReplayCapacity }},
		{"WORKER_HEALTH_PORT", "80", "health_port", func(c *WorkerConfig) any { return c.HealthPort }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			m := newTestMetrics()
			def := DefaultConfig()

			cfg, err := LoadConfigFromEnv(slog.New(slog.DiscardHandler), m)

			require.NoError(t, err)
			assert.Equal(t, tt.get(&def), tt.get(cfg))
			assert.NoError(t, cfg.Validate())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbacksTotal.WithLabelValues(tt.field)))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackActive))
		})
	}
}

func TestLoadConfigFromEnv_PortCollision(t *testing.T) {
	t.Setenv("WORKER_HEALTH_PORT", "9500")
	t.Setenv("ADMIN_PORT", "9500")
	m := newTestMetrics()

	cfg, err := LoadConfigFromEnv(slog.New(slog.DiscardHandler), m)

	require.NoError(t, err)
	assert.Equal(t, 9091, cfg.HealthPort)
	assert.Equal(t, 9090, cfg.AdminPort)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("ports")))
}

func TestLoadConfigFromEnv_NilMetrics(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_CHECKS", "abc")

	cfg, err := LoadConfigFromEnv(nil, nil)

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxConcurrentChecks, cfg.MaxConcurrentChecks)
}

func TestLoadConfigFromEnv_LogsFallback(t *testing.T) {
	t.Setenv("REPLAY_INTERVAL", "forever")
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := LoadConfigFromEnv(logger, newTestMetrics())

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "configuration fallback applied")
	assert.Contains(t, buf.String(), "REPLAY_INTERVAL")
}
