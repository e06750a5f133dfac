package feed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/pkg/clock"
	feedUC "feedrelay/internal/usecase/feed"
	"feedrelay/internal/usecase/schedule"
)

/*──────────────────── stubs ────────────────────*/

type stubRepo struct {
	data map[string]*entity.Feed
	err  error
}

func newStub(feeds ...*entity.Feed) *stubRepo {
	s := &stubRepo{data: map[string]*entity.Feed{}}
	for _, f := range feeds {
		s.data[f.ID] = f
	}
	return s
}

func (s *stubRepo) Get(_ context.Context, id string) (*entity.Feed, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data[id], nil
}
func (s *stubRepo) ListEnabled(context.Context) ([]*entity.Feed, error) { return nil, s.err }
func (s *stubRepo) ListByChat(_ context.Context, chatID int64) ([]*entity.Feed, error) {
	var out []*entity.Feed
	for _, f := range s.data {
		if f.ChatID == chatID {
			out = append(out, f)
		}
	}
	return out, s.err
}
func (s *stubRepo) ListAll(context.Context) ([]*entity.Feed, error) {
	var out []*entity.Feed
	for _, f := range s.data {
		out = append(out, f)
	}
	return out, s.err
}
func (s *stubRepo) Create(_ context.Context, f *entity.Feed) error {
	if s.err != nil {
		return s.err
	}
	for _, cur := range s.data {
		if cur.ChatID == f.ChatID && cur.URL == f.URL {
			return entity.ErrConflict
		}
	}
	s.data[f.ID] = f
	return nil
}
func (s *stubRepo) SetEnabled(_ context.Context, id string, enabled bool) error {
	f, ok := s.data[id]
	if !ok {
		return entity.ErrNotFound
	}
	f.Enabled = enabled
	if enabled {
		f.FailureCount = 0
	}
	return nil
}
func (s *stubRepo) RecordCheck(context.Context, string, string, time.Time) error { return nil }
func (s *stubRepo) IncrementFailure(context.Context, string) (int, error)        { return 0, nil }

// Delete mimics the transaction: the row comes back when the hook fails.
func (s *stubRepo) Delete(ctx context.Context, id string, beforeCommit func(context.Context) error) error {
	f, ok := s.data[id]
	if !ok {
		return entity.ErrNotFound
	}
	delete(s.data, id)
	if err := beforeCommit(ctx); err != nil {
		s.data[id] = f
		return err
	}
	return nil
}

type stubScheduler struct {
	scheduled   map[string]entity.ScheduledCheck
	scheduleErr error
	verifyErr   error
	triggered   []string
}

func newScheduler() *stubScheduler {
	return &stubScheduler{scheduled: map[string]entity.ScheduledCheck{}}
}

func (s *stubScheduler) Schedule(_ context.Context, c entity.ScheduledCheck) error {
	if s.scheduleErr != nil {
		return s.scheduleErr
	}
	s.scheduled[c.FeedID] = c
	return nil
}
func (s *stubScheduler) Unschedule(_ context.Context, id string) error {
	delete(s.scheduled, id)
	return nil
}
func (s *stubScheduler) Verify(_ context.Context, id string) error { return s.verifyErr }
func (s *stubScheduler) TriggerNow(_ context.Context, id string) error {
	s.triggered = append(s.triggered, id)
	return nil
}

type stubForgetter struct{ forgot []string }

func (f *stubForgetter) Forget(_ context.Context, id string) error {
	f.forgot = append(f.forgot, id)
	return nil
}

const feedURL = "https://203.0.113.10/feed.xml"

func existing(id string, enabled bool) *entity.Feed {
	return &entity.Feed{ID: id, ChatID: 7, URL: feedURL, IntervalMinutes: 15, Enabled: enabled, FailureCount: 11}
}

/*──────────────────── Subscribe ────────────────────*/

func TestService_Subscribe(t *testing.T) {
	repo, sched := newStub(), newScheduler()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := feedUC.Service{Repo: repo, Scheduler: sched, Clock: clock.NewMock(now)}

	f, err := svc.Subscribe(context.Background(), feedUC.SubscribeInput{ChatID: 7, URL: feedURL})
	if err != nil {
		t.Fatalf("Subscribe err=%v", err)
	}
	if len(f.ID) != 36 {
		t.Errorf("want uuid id, got %q", f.ID)
	}
	if f.IntervalMinutes != entity.DefaultIntervalMinutes {
		t.Errorf("interval = %d, want default %d", f.IntervalMinutes, entity.DefaultIntervalMinutes)
	}
	if !f.Enabled || !f.CreatedAt.Equal(now) {
		t.Errorf("unexpected feed %#v", f)
	}
	if _, ok := repo.data[f.ID]; !ok {
		t.Errorf("feed not stored")
	}
	if c, ok := sched.scheduled[f.ID]; !ok || c.ChatID != 7 || c.FeedURL != feedURL {
		t.Errorf("feed not scheduled: %#v", c)
	}
}

func TestService_Subscribe_validation(t *testing.T) {
	tests := []struct {
		name string
		in   feedUC.SubscribeInput
	}{
		{"missing chat", feedUC.SubscribeInput{URL: feedURL}},
		{"bad scheme", feedUC.SubscribeInput{ChatID: 7, URL: "ftp://203.0.113.10/feed"}},
		{"loopback", feedUC.SubscribeInput{ChatID: 7, URL: "http://127.0.0.1/feed"}},
		{"interval too long", feedUC.SubscribeInput{ChatID: 7, URL: feedURL, IntervalMinutes: 1441}},
		{"negative interval", feedUC.SubscribeInput{ChatID: 7, URL: feedURL, IntervalMinutes: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStub()
			svc := feedUC.Service{Repo: repo, Scheduler: newScheduler()}

			_, err := svc.Subscribe(context.Background(), tt.in)

			var ve *entity.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if len(repo.data) != 0 {
				t.Errorf("invalid feed stored")
			}
		})
	}
}

func TestService_Subscribe_duplicate(t *testing.T) {
	svc := feedUC.Service{Repo: newStub(existing("f1", true)), Scheduler: newScheduler()}

	_, err := svc.Subscribe(context.Background(), feedUC.SubscribeInput{ChatID: 7, URL: feedURL})

	if !errors.Is(err, feedUC.ErrAlreadySubscribed) {
		t.Fatalf("want ErrAlreadySubscribed, got %v", err)
	}
}

func TestService_Subscribe_scheduleFailureKeepsFeed(t *testing.T) {
	repo, sched := newStub(), newScheduler()
	sched.scheduleErr = errors.New("cron full")
	svc := feedUC.Service{Repo: repo, Scheduler: sched}

	f, err := svc.Subscribe(context.Background(), feedUC.SubscribeInput{ChatID: 7, URL: feedURL})

	if err != nil {
		t.Fatalf("Subscribe err=%v", err)
	}
	if _, ok := repo.data[f.ID]; !ok {
		t.Errorf("feed must stay stored for reconcile")
	}
}

/*──────────────────── Enable / Disable ────────────────────*/

func TestService_Disable(t *testing.T) {
	repo, sched := newStub(existing("f1", true)), newScheduler()
	sched.scheduled["f1"] = repo.data["f1"].Check()
	svc := feedUC.Service{Repo: repo, Scheduler: sched}

	if err := svc.Disable(context.Background(), "f1"); err != nil {
		t.Fatalf("Disable err=%v", err)
	}
	if repo.data["f1"].Enabled {
		t.Errorf("feed still enabled")
	}
	if _, ok := sched.scheduled["f1"]; ok {
		t.Errorf("feed still scheduled")
	}
}

func TestService_Enable(t *testing.T) {
	repo, sched := newStub(existing("f1", false)), newScheduler()
	svc := feedUC.Service{Repo: repo, Scheduler: sched}

	if err := svc.Enable(context.Background(), "f1"); err != nil {
		t.Fatalf("Enable err=%v", err)
	}
	if f := repo.data["f1"]; !f.Enabled || f.FailureCount != 0 {
		t.Errorf("unexpected feed %#v", f)
	}
	if c, ok := sched.scheduled["f1"]; !ok || c.IntervalMinutes != 15 {
		t.Errorf("feed not rescheduled: %#v", c)
	}
}

func TestService_notFound(t *testing.T) {
	svc := feedUC.Service{Repo: newStub(), Scheduler: newScheduler()}
	ctx := context.Background()

	ops := map[string]func() error{
		"Disable": func() error { return svc.Disable(ctx, "nope") },
		"Enable":  func() error { return svc.Enable(ctx, "nope") },
		"Delete":  func() error { return svc.Delete(ctx, "nope") },
		"Get":     func() error { _, err := svc.Get(ctx, "nope"); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, feedUC.ErrFeedNotFound) {
			t.Errorf("%s: want ErrFeedNotFound, got %v", name, err)
		}
	}
}

/*──────────────────── Delete ────────────────────*/

func TestService_Delete(t *testing.T) {
	repo, sched, forget := newStub(existing("f1", true)), newScheduler(), &stubForgetter{}
	sched.scheduled["f1"] = repo.data["f1"].Check()
	svc := feedUC.Service{Repo: repo, Scheduler: sched, Dedupe: forget}

	if err := svc.Delete(context.Background(), "f1"); err != nil {
		t.Fatalf("Delete err=%v", err)
	}
	if _, ok := repo.data["f1"]; ok {
		t.Errorf("feed row remains")
	}
	if _, ok := sched.scheduled["f1"]; ok {
		t.Errorf("feed still scheduled")
	}
	if len(forget.forgot) != 1 || forget.forgot[0] != "f1" {
		t.Errorf("dedupe history not cleared: %v", forget.forgot)
	}
}

func TestService_Delete_failedVerificationRollsBack(t *testing.T) {
	repo, sched, forget := newStub(existing("f1", true)), newScheduler(), &stubForgetter{}
	sched.verifyErr = &entity.ScheduleInconsistencyError{FeedID: "f1", Index: "cron"}
	svc := feedUC.Service{Repo: repo, Scheduler: sched, Dedupe: forget}

	err := svc.Delete(context.Background(), "f1")

	if !errors.Is(err, entity.ErrScheduleInconsistent) {
		t.Fatalf("want schedule inconsistency, got %v", err)
	}
	if _, ok := repo.data["f1"]; !ok {
		t.Errorf("feed row must remain after rollback")
	}
	if len(forget.forgot) != 0 {
		t.Errorf("dedupe history cleared for a feed that still exists")
	}
}

// stuckStore keeps reporting a schedule row as present after Delete.
type stuckStore struct {
	rows map[string]entity.ScheduledCheck
}

func (s *stuckStore) Upsert(_ context.Context, c entity.ScheduledCheck) error {
	s.rows[c.FeedID] = c
	return nil
}
func (s *stuckStore) Delete(_ context.Context, id string) error {
	delete(s.rows, id)
	return nil
}
func (s *stuckStore) Exists(context.Context, string) (bool, error) { return true, nil }
func (s *stuckStore) List(context.Context) ([]entity.ScheduledCheck, error) {
	var out []entity.ScheduledCheck
	for _, c := range s.rows {
		out = append(out, c)
	}
	return out, nil
}
func (s *stuckStore) UpdateLastItem(context.Context, string, string) error { return nil }

func TestService_Delete_rolledBackDeleteKeepsSchedule(t *testing.T) {
	repo, store := newStub(existing("f1", true)), &stuckStore{rows: map[string]entity.ScheduledCheck{}}
	sched := schedule.New(repo, store, func(context.Context, *schedule.Run) error { return nil }, schedule.Config{})
	ctx := context.Background()
	if err := sched.Schedule(ctx, repo.data["f1"].Check()); err != nil {
		t.Fatalf("Schedule err=%v", err)
	}
	svc := feedUC.Service{Repo: repo, Scheduler: sched}

	err := svc.Delete(ctx, "f1")

	if !errors.Is(err, entity.ErrScheduleInconsistent) {
		t.Fatalf("want schedule inconsistency, got %v", err)
	}
	if _, ok := repo.data["f1"]; !ok {
		t.Fatalf("feed row must remain after rollback")
	}
	if !sched.IsScheduled("f1") {
		t.Errorf("kept feed lost its schedule entry")
	}
	if _, ok := store.rows["f1"]; !ok {
		t.Errorf("kept feed lost its schedule row")
	}
}

func TestService_Delete_rolledBackDisabledFeedStaysUnscheduled(t *testing.T) {
	repo, sched := newStub(existing("f1", false)), newScheduler()
	sched.verifyErr = &entity.ScheduleInconsistencyError{FeedID: "f1", Index: "store"}
	svc := feedUC.Service{Repo: repo, Scheduler: sched}

	if err := svc.Delete(context.Background(), "f1"); err == nil {
		t.Fatal("want error")
	}
	if _, ok := sched.scheduled["f1"]; ok {
		t.Errorf("disabled feed must not be rescheduled")
	}
}

/*──────────────────── queries ────────────────────*/

func TestService_List(t *testing.T) {
	other := existing("f2", true)
	other.ChatID = 8
	svc := feedUC.Service{Repo: newStub(existing("f1", true), other), Scheduler: newScheduler()}

	feeds, err := svc.List(context.Background(), 7)
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	if len(feeds) != 1 || feeds[0].ID != "f1" {
		t.Errorf("List(7) = %v", feeds)
	}

	all, err := svc.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll err=%v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListAll got %d feeds, want 2", len(all))
	}
}

func TestService_List_repositoryError(t *testing.T) {
	repo := newStub()
	repo.err = errors.New("database error")
	svc := feedUC.Service{Repo: repo, Scheduler: newScheduler()}

	if _, err := svc.List(context.Background(), 7); err == nil {
		t.Errorf("want error, got nil")
	}
	if _, err := svc.ListAll(context.Background()); err == nil {
		t.Errorf("want error, got nil")
	}
}

func TestService_CheckNow(t *testing.T) {
	sched := newScheduler()
	svc := feedUC.Service{Repo: newStub(), Scheduler: sched}

	if err := svc.CheckNow(context.Background(), "f1"); err != nil {
		t.Fatalf("CheckNow err=%v", err)
	}
	if len(sched.triggered) != 1 {
		t.Errorf("check not triggered")
	}
}
