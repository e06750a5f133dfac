package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"feedrelay/internal/pkg/config"
)

// WorkerMetrics holds the worker's own metrics: config loading and the
// maintenance loop. Engine metrics live in internal/observability/metrics.
type WorkerMetrics struct {
	*config.ConfigMetrics

	MaintenanceRunsTotal          *prometheus.CounterVec
	MaintenanceDurationSeconds    prometheus.Histogram
	MaintenancePrunedTotal        *prometheus.CounterVec
	MaintenanceLastSuccessSeconds prometheus.Gauge
}

// NewWorkerMetrics registers the worker metrics with reg (nil selects the
// default registerer).
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker", reg),

		MaintenanceRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_maintenance_runs_total",
			Help: "Maintenance passes by status (success/failure).",
		}, []string{"status"}),

		MaintenanceDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_maintenance_duration_seconds",
			Help:    "Duration of one maintenance pass.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30},
		}),

		MaintenancePrunedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_maintenance_pruned_total",
			Help: "Entries reclaimed by maintenance, by component.",
		}, []string{"component"}),

		MaintenanceLastSuccessSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "worker_maintenance_last_success_timestamp_seconds",
			Help: "Unix time of the last successful maintenance pass.",
		}),
	}
}

// RecordMaintenance records one pass. pruned maps component to the number
// of entries it reclaimed.
func (m *WorkerMetrics) RecordMaintenance(d time.Duration, pruned map[string]int, err error) {
	m.MaintenanceDurationSeconds.Observe(d.Seconds())
	for component, n := range pruned {
		if n > 0 {
			m.MaintenancePrunedTotal.WithLabelValues(component).Add(float64(n))
		}
	}
	if err != nil {
		m.MaintenanceRunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.MaintenanceRunsTotal.WithLabelValues("success").Inc()
	m.MaintenanceLastSuccessSeconds.SetToCurrentTime()
}
