package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"feedrelay/internal/observability/metrics"
	"feedrelay/internal/pkg/clock"
)

// Store is the replay queue backend. Implementations are bounded: Push
// evicts the oldest entries to make room and reports how many it evicted.
type Store interface {
	Push(ctx context.Context, msg Message) (evicted int, err error)
	// Pop removes and returns up to n entries, oldest first.
	Pop(ctx context.Context, n int) ([]Message, error)
	// Requeue puts popped entries back at the head, msgs[0] first. When
	// full, the oldest of msgs are evicted and counted.
	Requeue(ctx context.Context, msgs []Message) (evicted int, err error)
	Len(ctx context.Context) (int, error)
}

// Filter reports whether a queued message should still be delivered.
type Filter func(msg Message) bool

// ReplayConfig configures a ReplayQueue. Zero values select defaults.
type ReplayConfig struct {
	BatchSize int
	Interval  time.Duration
	// TTL is measured from the first enqueue.
	TTL    time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

// Replay queue defaults.
const (
	DefaultReplayCapacity  = 1000
	DefaultReplayBatchSize = 20
	DefaultReplayInterval  = 30 * time.Second
	DefaultReplayTTL       = 6 * time.Hour
)

// DrainStats summarises one drain tick.
type DrainStats struct {
	Popped      int
	Delivered   int
	Requeued    int
	Dropped     int
	Expired     int
	Unscheduled int
}

// ReplayQueue holds messages whose delivery failed transiently. Producers
// never wait for capacity; a single consumer drains it with Run.
type ReplayQueue struct {
	store     Store
	batchSize int
	interval  time.Duration
	ttl       time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu     sync.RWMutex
	filter Filter
}

// NewReplayQueue returns a queue over store.
func NewReplayQueue(store Store, cfg ReplayConfig) *ReplayQueue {
	q := &ReplayQueue{
		store:     store,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		ttl:       cfg.TTL,
		clock:     clock.OrSystem(cfg.Clock),
		logger:    cfg.Logger,
	}
	if q.batchSize <= 0 {
		q.batchSize = DefaultReplayBatchSize
	}
	if q.interval <= 0 {
		q.interval = DefaultReplayInterval
	}
	if q.ttl <= 0 {
		q.ttl = DefaultReplayTTL
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// SetFilter installs the filter applied to every drained message.
func (q *ReplayQueue) SetFilter(f Filter) {
	q.mu.Lock()
	q.filter = f
	q.mu.Unlock()
}

// Enqueue appends msg. The first enqueue stamps EnqueuedAt.
func (q *ReplayQueue) Enqueue(ctx context.Context, msg Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = q.clock.Now()
	}
	evicted, err := q.store.Push(ctx, msg)
	if err != nil {
		return fmt.Errorf("enqueue replay: %w", err)
	}
	if evicted > 0 {
		metrics.RecordReplayDropped("overflow", evicted)
		q.logger.Warn("replay queue full, oldest entries dropped", slog.Int("dropped", evicted))
	}
	q.publishDepth(ctx)
	return nil
}

// Len returns the current depth. Store errors read as zero.
func (q *ReplayQueue) Len(ctx context.Context) int {
	n, err := q.store.Len(ctx)
	if err != nil {
		q.logger.Warn("replay queue depth unavailable", slog.Any("error", err))
		return 0
	}
	return n
}

// Drain processes one batch through deliver, counting each attempt in
// Replays. Expired and filtered entries are dropped. The batch stops at the
// first message whose outcome is Queued, since the endpoint is still
// unhealthy; that message and the unprocessed rest go back to the head in
// their original order.
func (q *ReplayQueue) Drain(ctx context.Context, deliver func(context.Context, Message) Result) (DrainStats, error) {
	var st DrainStats
	batch, err := q.store.Pop(ctx, q.batchSize)
	if err != nil {
		if len(batch) == 0 {
			return st, fmt.Errorf("drain replay: %w", err)
		}
		q.logger.Warn("replay batch partially unreadable", slog.Any("error", err))
	}
	st.Popped = len(batch)

	q.mu.RLock()
	filter := q.filter
	q.mu.RUnlock()

	now := q.clock.Now()
	for i, msg := range batch {
		if ctx.Err() != nil {
			q.requeue(batch[i:])
			break
		}
		if !msg.EnqueuedAt.IsZero() && now.Sub(msg.EnqueuedAt) >= q.ttl {
			st.Expired++
			continue
		}
		if filter != nil && !filter(msg) {
			st.Unscheduled++
			continue
		}

		batch[i].Replays++
		res := deliver(ctx, batch[i])
		switch res.Outcome {
		case Delivered:
			st.Delivered++
		case Dropped:
			st.Dropped++
		case Queued:
			q.requeue(batch[i:])
			st.Requeued += len(batch) - i
			q.finish(ctx, st)
			return st, nil
		}
	}
	q.finish(ctx, st)
	return st, nil
}

// requeue returns msgs to the head. It runs on shutdown too, so it ignores
// the drain context.
func (q *ReplayQueue) requeue(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	evicted, err := q.store.Requeue(context.Background(), msgs)
	if err != nil {
		q.logger.Error("replay requeue failed",
			slog.Int("messages", len(msgs)),
			slog.String("first_message_id", msgs[0].ID),
			slog.Any("error", err))
		return
	}
	if evicted > 0 {
		metrics.RecordReplayDropped("overflow", evicted)
		q.logger.Warn("replay queue full, oldest entries dropped", slog.Int("dropped", evicted))
	}
}

func (q *ReplayQueue) finish(ctx context.Context, st DrainStats) {
	if st.Expired > 0 {
		metrics.RecordReplayDropped("expired", st.Expired)
	}
	if st.Unscheduled > 0 {
		metrics.RecordReplayDropped("unscheduled", st.Unscheduled)
	}
	q.publishDepth(ctx)
	if st.Popped > 0 {
		q.logger.Debug("replay drained",
			slog.Int("popped", st.Popped),
			slog.Int("delivered", st.Delivered),
			slog.Int("requeued", st.Requeued),
			slog.Int("dropped", st.Dropped),
			slog.Int("expired", st.Expired),
			slog.Int("unscheduled", st.Unscheduled))
	}
}

func (q *ReplayQueue) publishDepth(ctx context.Context) {
	if n, err := q.store.Len(ctx); err == nil {
		metrics.SetReplayDepth(n)
	}
}

// Run drains the queue every interval until ctx is done.
func (q *ReplayQueue) Run(ctx context.Context, deliver func(context.Context, Message) Result) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	q.logger.Info("replay queue started",
		slog.Duration("interval", q.interval),
		slog.Int("batch_size", q.batchSize),
		slog.Duration("ttl", q.ttl))
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("replay queue stopped")
			return nil
		case <-ticker.C:
			if _, err := q.Drain(ctx, deliver); err != nil {
				q.logger.Error("replay drain failed", slog.Any("error", err))
			}
		}
	}
}
