package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	workerPkg "feedrelay/internal/infra/worker"
	"feedrelay/internal/observability/metrics"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/ratelimit"
	"feedrelay/internal/resilience/recovery"
	"feedrelay/internal/usecase/dedupe"
)

// limiterIdle is how long a source's rate window may sit unused before it is
// dropped.
const limiterIdle = 24 * time.Hour

// maintenance prunes idle per-source state and expired dedupe records and
// samples the connection pool.
type maintenance struct {
	db       interface{ Stats() sql.DBStats }
	breakers *circuitbreaker.SourceBreakers
	limiter  *ratelimit.Limiter
	recovery *recovery.Manager
	dedupe   *dedupe.Deduplicator
	metrics  *workerPkg.WorkerMetrics
	logger   *slog.Logger
}

func (m *maintenance) run(ctx context.Context) {
	start := time.Now()
	if m.db != nil {
		st := m.db.Stats()
		metrics.UpdateDBConnectionStats(st.InUse, st.Idle)
	}

	pruned := map[string]int{
		"breakers":    m.pruneBreakers(),
		"rate_limits": m.limiter.Prune(limiterIdle),
		"recovery":    m.recovery.Prune(),
	}
	expired, err := m.dedupe.Sweep(ctx)
	pruned["dedupe"] = expired

	m.metrics.RecordMaintenance(time.Since(start), pruned, err)
	if err != nil {
		m.logger.Warn("maintenance finished with errors", slog.Any("error", err))
		return
	}
	m.logger.Debug("maintenance finished",
		slog.Int("breakers", pruned["breakers"]),
		slog.Int("rate_limits", pruned["rate_limits"]),
		slog.Int("recovery", pruned["recovery"]),
		slog.Int("dedupe", expired))
}

// pruneBreakers prunes idle breakers and drops their gauge series.
func (m *maintenance) pruneBreakers() int {
	before := m.breakers.Snapshot()
	n := m.breakers.Prune()
	if n == 0 {
		return 0
	}
	after := m.breakers.Snapshot()
	for source := range before {
		if _, ok := after[source]; !ok {
			metrics.ForgetBreaker(source)
		}
	}
	return n
}
