package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/robfig/cron/v3"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/observability/metrics"
)

// Report summarises one reconcile pass.
type Report struct {
	Thorough        bool                                 `json:"thorough"`
	Registered      int                                  `json:"registered"`
	OrphansRemoved  int                                  `json:"orphans_removed"`
	Created         int                                  `json:"created"`
	Repaired        int                                  `json:"repaired"`
	RowsRepaired    int                                  `json:"rows_repaired"`
	Inconsistencies []*entity.ScheduleInconsistencyError `json:"-"`
}

// Load rebuilds the schedule at startup from the persisted rows and the
// registry. It is a thorough reconcile in which a stored last item fills in
// for a registry row that has none.
func (s *Scheduler) Load(ctx context.Context) (Report, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load schedule rows: %w", err)
	}
	return s.reconcile(ctx, true, rows)
}

// Reconcile diffs every index against the registry's enabled feeds. Orphans
// are removed and verified, missing entries created, and entries whose cron
// registration vanished are rebuilt. The thorough pass also repairs entries
// and rows whose target drifted.
func (s *Scheduler) Reconcile(ctx context.Context, thorough bool) (Report, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list schedule rows: %w", err)
	}
	return s.reconcile(ctx, thorough, rows)
}

func (s *Scheduler) reconcile(ctx context.Context, thorough bool, rows []entity.ScheduledCheck) (Report, error) {
	rep := Report{Thorough: thorough}

	feeds, err := s.feeds.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("reconcile aborted, registry unavailable", slog.Any("error", err))
		return rep, fmt.Errorf("list enabled feeds: %w", err)
	}
	rowByID := make(map[string]entity.ScheduledCheck, len(rows))
	for _, r := range rows {
		rowByID[r.FeedID] = r
	}
	want := make(map[string]entity.ScheduledCheck, len(feeds))
	for _, f := range feeds {
		c := f.Check()
		if c.LastItemID == "" {
			c.LastItemID = rowByID[f.ID].LastItemID
		}
		want[f.ID] = c
	}
	rep.Registered = len(want)

	entries, cronIDs, strays := s.indexSnapshot()

	// Orphans: present in any index, absent from the registry.
	orphans := make(map[string]struct{})
	for id := range entries {
		orphans[id] = struct{}{}
	}
	for id := range cronIDs {
		orphans[id] = struct{}{}
	}
	for id := range rowByID {
		orphans[id] = struct{}{}
	}
	for id := range want {
		delete(orphans, id)
	}
	for _, id := range sortedKeys(orphans) {
		// The registry may have gained the feed after it was listed.
		if live, err := s.registered(ctx, id); err != nil || live {
			if err != nil {
				s.logger.Warn("orphan kept, registry lookup failed", slog.String("feed_id", id), slog.Any("error", err))
			}
			continue
		}
		if err := s.Unschedule(ctx, id); err != nil {
			s.logger.Warn("orphan removal incomplete", slog.String("feed_id", id), slog.Any("error", err))
		}
		if inc := s.verifyPass(ctx, id); inc != nil {
			rep.Inconsistencies = append(rep.Inconsistencies, inc)
			continue
		}
		rep.OrphansRemoved++
	}

	// Stale payloads left behind by earlier generations.
	if len(strays) > 0 {
		s.mu.Lock()
		for _, id := range strays {
			s.cron.Remove(id)
		}
		s.mu.Unlock()
		rep.Repaired += len(strays)
	}

	for _, id := range sortedKeys(want) {
		c := want[id]
		cur, scheduled := entries[id]
		_, inCron := cronIDs[id]
		switch {
		case !scheduled:
			if err := s.Schedule(ctx, c); err != nil {
				s.logger.Warn("reconcile could not schedule feed", slog.String("feed_id", id), slog.Any("error", err))
				continue
			}
			rep.Created++
		case !inCron, thorough && !cur.SameTarget(c):
			if cur.LastItemID != "" {
				c.LastItemID = cur.LastItemID
			}
			if err := s.Schedule(ctx, c); err != nil {
				s.logger.Warn("reconcile could not repair feed", slog.String("feed_id", id), slog.Any("error", err))
				continue
			}
			rep.Repaired++
		case thorough:
			if row, ok := rowByID[id]; !ok || !row.SameTarget(cur) {
				if err := s.store.Upsert(ctx, cur); err != nil {
					s.logger.Warn("reconcile could not repair row", slog.String("feed_id", id), slog.Any("error", err))
					continue
				}
				rep.RowsRepaired++
			}
		}
		s.clearInconsistency(id)
	}

	metrics.RecordReconcile(thorough, rep.OrphansRemoved)
	metrics.SetScheduleEntries(s.Len())
	level := slog.LevelDebug
	if rep.OrphansRemoved+rep.Created+rep.Repaired+rep.RowsRepaired+len(rep.Inconsistencies) > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "schedule reconciled",
		slog.Bool("thorough", thorough),
		slog.Int("registered", rep.Registered),
		slog.Int("orphans_removed", rep.OrphansRemoved),
		slog.Int("created", rep.Created),
		slog.Int("repaired", rep.Repaired),
		slog.Int("rows_repaired", rep.RowsRepaired),
		slog.Int("inconsistencies", len(rep.Inconsistencies)))
	return rep, nil
}

// registered reports whether feedID is currently an enabled feed.
func (s *Scheduler) registered(ctx context.Context, feedID string) (bool, error) {
	f, err := s.feeds.Get(ctx, feedID)
	if err != nil {
		return false, fmt.Errorf("get feed %s: %w", feedID, err)
	}
	return f != nil && f.Enabled, nil
}

// indexSnapshot returns the entry map, the feeds found in cron's list, and
// cron entries whose payload is not the feed's current generation.
func (s *Scheduler) indexSnapshot() (map[string]entity.ScheduledCheck, map[string]struct{}, []cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]entity.ScheduledCheck, len(s.entries))
	for id, e := range s.entries {
		entries[id] = e.check
	}
	inCron := make(map[string]struct{})
	var strays []cron.EntryID
	for _, ce := range s.cron.Entries() {
		j, ok := ce.Job.(*checkJob)
		if !ok {
			continue
		}
		e, known := s.entries[j.feedID]
		if known && e.id != ce.ID {
			strays = append(strays, ce.ID)
			continue
		}
		inCron[j.feedID] = struct{}{}
	}
	return entries, inCron, strays
}

// verifyPass verifies an orphan's removal and tracks consecutive failures.
// The error is escalated from the EscalateAfter-th consecutive failing pass.
func (s *Scheduler) verifyPass(ctx context.Context, feedID string) *entity.ScheduleInconsistencyError {
	err := s.Verify(ctx, feedID)
	if err == nil {
		s.clearInconsistency(feedID)
		return nil
	}

	var inc *entity.ScheduleInconsistencyError
	if !errors.As(err, &inc) {
		inc = &entity.ScheduleInconsistencyError{FeedID: feedID, Index: "store"}
	}
	s.incMu.Lock()
	s.inconsistencies[feedID]++
	inc.Passes = s.inconsistencies[feedID]
	s.incMu.Unlock()

	escalated := inc.Passes >= s.cfg.EscalateAfter
	metrics.RecordInconsistency(escalated)
	attrs := []any{
		slog.String("feed_id", feedID),
		slog.String("index", inc.Index),
		slog.Int("passes", inc.Passes),
		slog.Any("error", err),
	}
	if escalated {
		s.logger.Error("schedule inconsistency persists", attrs...)
	} else {
		s.logger.Warn("schedule inconsistency detected", attrs...)
	}
	return inc
}

func (s *Scheduler) clearInconsistency(feedID string) {
	s.incMu.Lock()
	delete(s.inconsistencies, feedID)
	s.incMu.Unlock()
}

// Inconsistencies returns the consecutive failing pass count per feed.
func (s *Scheduler) Inconsistencies() map[string]int {
	s.incMu.Lock()
	defer s.incMu.Unlock()
	out := make(map[string]int, len(s.inconsistencies))
	for k, v := range s.inconsistencies {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
