package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestWorkerMetrics_RecordMaintenance(t *testing.T) {
	m := NewWorkerMetrics(prometheus.NewRegistry())

	m.RecordMaintenance(50*time.Millisecond, map[string]int{"breakers": 2, "dedupe": 0, "limiter": 5}, nil)
	m.RecordMaintenance(10*time.Millisecond, map[string]int{"breakers": 1}, errors.New("db down"))

	if got := testutil.ToFloat64(m.MaintenanceRunsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MaintenanceRunsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("failure runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MaintenancePrunedTotal.WithLabelValues("breakers")); got != 3 {
		t.Errorf("pruned breakers = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.MaintenancePrunedTotal.WithLabelValues("limiter")); got != 5 {
		t.Errorf("pruned limiter = %v, want 5", got)
	}
	if got := testutil.CollectAndCount(m.MaintenancePrunedTotal); got != 2 {
		t.Errorf("pruned series = %d, want 2 (zero counts are not recorded)", got)
	}
	if testutil.ToFloat64(m.MaintenanceLastSuccessSeconds) == 0 {
		t.Error("last success timestamp not set")
	}

	var metric dto.Metric
	if err := m.MaintenanceDurationSeconds.Write(&metric); err != nil {
		t.Fatal(err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("duration samples = %d, want 2", got)
	}
}

func TestWorkerMetrics_EmbedsConfigMetrics(t *testing.T) {
	m := NewWorkerMetrics(prometheus.NewRegistry())

	m.RecordFallback("timezone")

	if got := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("timezone")); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}
