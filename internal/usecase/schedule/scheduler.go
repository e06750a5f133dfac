// Package schedule owns the recurring feed checks.
//
// Every enabled feed has one cron entry carrying a *checkJob payload. The
// scheduler keeps three indices of those entries: its own map, cron's entry
// list and the persisted scheduled_checks rows. Removal goes through all
// three, Verify confirms it, and Reconcile repairs drift against the feed
// registry.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/observability/metrics"
	"feedrelay/internal/pkg/clock"
	"feedrelay/internal/repository"
)

// Defaults for Config.
const (
	DefaultReconcileInterval = 30 * time.Minute
	DefaultThoroughInterval  = 2 * time.Hour
	DefaultMaxConcurrent     = 8
	DefaultCheckTimeout      = 2 * time.Minute
	DefaultEscalateAfter     = 2
)

// CheckFunc performs one check. It should consult run.Alive before any
// externally visible effect.
type CheckFunc func(ctx context.Context, run *Run) error

// Config configures a Scheduler. Zero values select defaults.
type Config struct {
	ReconcileInterval time.Duration
	ThoroughInterval  time.Duration
	MaxConcurrent     int64
	CheckTimeout      time.Duration
	// EscalateAfter is the number of consecutive failing reconcile passes
	// after which an inconsistency is logged as an error.
	EscalateAfter int
	Location      *time.Location
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Entry is a snapshot of one scheduled check.
type Entry struct {
	entity.ScheduledCheck
	Generation uint64
	Next       time.Time
	Prev       time.Time
	Running    bool
}

type entry struct {
	id    cron.EntryID
	check entity.ScheduledCheck
	job   *checkJob
}

// Scheduler runs feed checks on their intervals.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	feeds  repository.FeedRepository
	store  repository.ScheduleRepository
	check  CheckFunc
	sem    *semaphore.Weighted
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
	baseCtx context.Context

	flightMu sync.Mutex
	inFlight map[string]struct{}

	incMu           sync.Mutex
	inconsistencies map[string]int
}

// New returns a stopped Scheduler. feeds is the registry reconciled against
// and store persists the entries.
func New(feeds repository.FeedRepository, store repository.ScheduleRepository, check CheckFunc, cfg Config) *Scheduler {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.ThoroughInterval <= 0 {
		cfg.ThoroughInterval = DefaultThoroughInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = DefaultEscalateAfter
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cl := cronLogger{l: cfg.Logger}
	return &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		feeds:           feeds,
		store:           store,
		check:           check,
		sem:             semaphore.NewWeighted(cfg.MaxConcurrent),
		clock:           clock.OrSystem(cfg.Clock),
		logger:          cfg.Logger,
		entries:         make(map[string]*entry),
		baseCtx:         context.Background(),
		inFlight:        make(map[string]struct{}),
		inconsistencies: make(map[string]int),
	}
}

// Start registers the reconcile passes and starts cron. Checks fired by cron
// run under ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.Every(s.cfg.ReconcileInterval, "reconcile", func(ctx context.Context) {
		_, _ = s.Reconcile(ctx, false)
	}); err != nil {
		return err
	}
	if err := s.Every(s.cfg.ThoroughInterval, "reconcile_thorough", func(ctx context.Context) {
		_, _ = s.Reconcile(ctx, true)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		slog.Int("entries", s.Len()),
		slog.Duration("reconcile_interval", s.cfg.ReconcileInterval),
		slog.Duration("thorough_interval", s.cfg.ThoroughInterval),
		slog.Int64("max_concurrent", s.cfg.MaxConcurrent))
	return nil
}

// Stop stops cron and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with checks still running")
	}
}

// Every registers a periodic maintenance task on the scheduler's cron.
func (s *Scheduler) Every(d time.Duration, name string, fn func(ctx context.Context)) error {
	if d <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	s.cron.Schedule(cron.Every(d), cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.baseCtx
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		start := s.clock.Now()
		fn(ctx)
		s.logger.Debug("periodic task finished",
			slog.String("task", name),
			slog.Duration("took", s.clock.Now().Sub(start)))
	}))
	return nil
}

// Schedule installs or replaces the entry for check.FeedID and persists it.
// Calling it twice with the same check leaves exactly one entry.
func (s *Scheduler) Schedule(ctx context.Context, check entity.ScheduledCheck) error {
	if err := entity.ValidateInterval(check.IntervalMinutes); err != nil {
		return err
	}
	check.ScheduledAt = s.clock.Now()

	s.mu.Lock()
	s.removeLocked(check.FeedID)
	s.gen++
	job := &checkJob{s: s, feedID: check.FeedID, gen: s.gen}
	id, err := s.cron.AddJob(fmt.Sprintf("@every %dm", check.IntervalMinutes), job)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("schedule feed %s: %w", check.FeedID, err)
	}
	s.entries[check.FeedID] = &entry{id: id, check: check, job: job}
	n := len(s.entries)
	s.mu.Unlock()

	metrics.SetScheduleEntries(n)
	if err := s.store.Upsert(ctx, check); err != nil {
		return fmt.Errorf("persist schedule for feed %s: %w", check.FeedID, err)
	}
	s.logger.Debug("feed scheduled",
		slog.String("feed_id", check.FeedID),
		slog.Int("interval_minutes", check.IntervalMinutes))
	return nil
}

// Unschedule removes feedID from every index: the entry map, a scan of
// cron's entries for the feed's payload, and the persisted row. A run in
// flight stops being alive immediately.
func (s *Scheduler) Unschedule(ctx context.Context, feedID string) error {
	s.mu.Lock()
	s.removeLocked(feedID)
	n := len(s.entries)
	s.mu.Unlock()

	metrics.SetScheduleEntries(n)
	if err := s.store.Delete(ctx, feedID); err != nil {
		return fmt.Errorf("delete schedule row for feed %s: %w", feedID, err)
	}
	s.logger.Debug("feed unscheduled", slog.String("feed_id", feedID))
	return nil
}

// removeLocked drops feedID from the map and from cron. Callers hold s.mu.
func (s *Scheduler) removeLocked(feedID string) {
	if e, ok := s.entries[feedID]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, feedID)
	}
	for _, ce := range s.cron.Entries() {
		if j, ok := ce.Job.(*checkJob); ok && j.feedID == feedID {
			s.cron.Remove(ce.ID)
		}
	}
}

// Verify confirms that feedID is absent from every index.
func (s *Scheduler) Verify(ctx context.Context, feedID string) error {
	s.mu.Lock()
	_, inMap := s.entries[feedID]
	inCron := s.cronHasLocked(feedID)
	s.mu.Unlock()

	if inMap {
		return &entity.ScheduleInconsistencyError{FeedID: feedID, Index: "entries"}
	}
	if inCron {
		return &entity.ScheduleInconsistencyError{FeedID: feedID, Index: "cron"}
	}
	exists, err := s.store.Exists(ctx, feedID)
	if err != nil {
		return fmt.Errorf("verify schedule row for feed %s: %w", feedID, err)
	}
	if exists {
		return &entity.ScheduleInconsistencyError{FeedID: feedID, Index: "store"}
	}
	return nil
}

func (s *Scheduler) cronHasLocked(feedID string) bool {
	for _, ce := range s.cron.Entries() {
		if j, ok := ce.Job.(*checkJob); ok && j.feedID == feedID {
			return true
		}
	}
	return false
}

// IsScheduled reports whether feedID has an active entry.
func (s *Scheduler) IsScheduled(feedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[feedID]
	return ok
}

// Len returns the number of active entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns the active entries ordered by feed ID.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	byID := make(map[cron.EntryID]cron.Entry)
	for _, ce := range s.cron.Entries() {
		byID[ce.ID] = ce
	}
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		ce := byID[e.id]
		out = append(out, Entry{
			ScheduledCheck: e.check,
			Generation:     e.job.gen,
			Next:           ce.Next,
			Prev:           ce.Prev,
		})
	}
	s.mu.Unlock()

	s.flightMu.Lock()
	for i := range out {
		_, out[i].Running = s.inFlight[out[i].FeedID]
	}
	s.flightMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FeedID < out[j].FeedID })
	return out
}

// UpdateLastItem records the newest delivered item. It is a no-op once the
// feed is unscheduled.
func (s *Scheduler) UpdateLastItem(ctx context.Context, feedID, itemID string) error {
	s.mu.Lock()
	e, ok := s.entries[feedID]
	if ok {
		e.check.LastItemID = itemID
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.store.UpdateLastItem(ctx, feedID, itemID); err != nil {
		return fmt.Errorf("update last item for feed %s: %w", feedID, err)
	}
	return nil
}

// TriggerNow runs feedID's check immediately under ctx and returns its
// error. Overlap with a running check returns ErrInFlight.
func (s *Scheduler) TriggerNow(ctx context.Context, feedID string) error {
	s.mu.Lock()
	e, ok := s.entries[feedID]
	s.mu.Unlock()
	if !ok {
		return ErrNotScheduled
	}
	return s.execute(ctx, e.job)
}
