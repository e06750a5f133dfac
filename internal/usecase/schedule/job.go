package schedule

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/observability/logging"
	"feedrelay/internal/observability/metrics"
)

// checkJob is the cron payload of one feed's entry. gen distinguishes it
// from the payloads of earlier entries of the same feed.
type checkJob struct {
	s      *Scheduler
	feedID string
	gen    uint64
}

// Run is called by cron.
func (j *checkJob) Run() {
	j.s.mu.Lock()
	ctx := j.s.baseCtx
	j.s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	_ = j.s.execute(ctx, j)
}

// Run is one execution of a scheduled check.
type Run struct {
	ID    string
	Check entity.ScheduledCheck
	job   *checkJob
}

// Alive reports whether the entry that started this run is still the
// feed's current entry. A run of an unscheduled or rescheduled feed must
// discard its results.
func (r *Run) Alive() bool {
	return r.job.s.alive(r.job)
}

// UpdateLastItem records itemID as the feed's newest delivered item. It is a
// no-op once the feed is unscheduled.
func (r *Run) UpdateLastItem(ctx context.Context, itemID string) error {
	return r.job.s.UpdateLastItem(ctx, r.Check.FeedID, itemID)
}

// Unschedule removes the run's feed from every schedule index.
func (r *Run) Unschedule(ctx context.Context) error {
	return r.job.s.Unschedule(ctx, r.Check.FeedID)
}

func (s *Scheduler) alive(j *checkJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[j.feedID]
	return ok && e.job.gen == j.gen
}

// execute runs j's check once, at most once in flight per feed, within the
// global concurrency cap and the check timeout.
func (s *Scheduler) execute(ctx context.Context, j *checkJob) error {
	s.mu.Lock()
	e, ok := s.entries[j.feedID]
	var check entity.ScheduledCheck
	if ok && e.job.gen == j.gen {
		check = e.check
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		metrics.RecordCheckSkipped("stale")
		return ErrNotScheduled
	}

	if !s.tryAcquire(j.feedID) {
		metrics.RecordCheckSkipped("in_flight")
		s.logger.Debug("check skipped, previous run still in flight", slog.String("feed_id", j.feedID))
		return ErrInFlight
	}
	defer s.release(j.feedID)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		metrics.RecordCheckSkipped("shutdown")
		return err
	}
	defer s.sem.Release(1)

	run := &Run{ID: uuid.NewString(), Check: check, job: j}
	logger := logging.WithFeed(logging.WithRunID(s.logger, run.ID), check.FeedID, entity.SourceKey(check.FeedURL))
	ctx = logging.WithLogger(ctx, logger)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	err := s.check(ctx, run)
	if err != nil {
		logger.Warn("feed check failed", slog.Any("error", err))
	}
	return err
}

func (s *Scheduler) tryAcquire(feedID string) bool {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	if _, busy := s.inFlight[feedID]; busy {
		return false
	}
	s.inFlight[feedID] = struct{}{}
	return true
}

func (s *Scheduler) release(feedID string) {
	s.flightMu.Lock()
	delete(s.inFlight, feedID)
	s.flightMu.Unlock()
}

// InFlight returns the number of checks currently running.
func (s *Scheduler) InFlight() int {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	return len(s.inFlight)
}
