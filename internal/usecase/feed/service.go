package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/pkg/clock"
	"feedrelay/internal/repository"
)

// Scheduler is the part of schedule.Scheduler the use cases drive.
type Scheduler interface {
	Schedule(ctx context.Context, check entity.ScheduledCheck) error
	Unschedule(ctx context.Context, feedID string) error
	Verify(ctx context.Context, feedID string) error
	TriggerNow(ctx context.Context, feedID string) error
}

// Forgetter drops a feed's dedupe history. *dedupe.Deduplicator implements it.
type Forgetter interface {
	Forget(ctx context.Context, feedID string) error
}

// SubscribeInput holds the parameters of a new subscription. A zero
// IntervalMinutes selects entity.DefaultIntervalMinutes.
type SubscribeInput struct {
	ChatID          int64
	URL             string
	Title           string
	IntervalMinutes int
}

// Service provides feed management use cases. Repo is the feed registry and
// Scheduler keeps the schedule in step with it. Dedupe, Clock and Logger are
// optional.
type Service struct {
	Repo      repository.FeedRepository
	Scheduler Scheduler
	Dedupe    Forgetter
	Clock     clock.Clock
	Logger    *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Subscribe validates the input, creates the feed and schedules it. A feed
// that was stored but could not be scheduled is still returned; the next
// reconcile pass schedules it.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (*entity.Feed, error) {
	if in.IntervalMinutes == 0 {
		in.IntervalMinutes = entity.DefaultIntervalMinutes
	}
	f := &entity.Feed{
		ID:              uuid.NewString(),
		ChatID:          in.ChatID,
		URL:             in.URL,
		Title:           in.Title,
		IntervalMinutes: in.IntervalMinutes,
		Enabled:         true,
		CreatedAt:       clock.OrSystem(s.Clock).Now(),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if err := s.Repo.Create(ctx, f); err != nil {
		if errors.Is(err, entity.ErrConflict) {
			return nil, ErrAlreadySubscribed
		}
		return nil, fmt.Errorf("create feed: %w", err)
	}
	if err := s.Scheduler.Schedule(ctx, f.Check()); err != nil {
		s.logger().Warn("subscribed feed not scheduled, reconcile will retry",
			slog.String("feed_id", f.ID),
			slog.Any("error", err))
	}
	return f, nil
}

// Get returns the feed with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*entity.Feed, error) {
	f, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	if f == nil {
		return nil, ErrFeedNotFound
	}
	return f, nil
}

// List returns the feeds of one chat.
func (s *Service) List(ctx context.Context, chatID int64) ([]*entity.Feed, error) {
	feeds, err := s.Repo.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feeds, nil
}

// ListAll returns every feed, enabled or not.
func (s *Service) ListAll(ctx context.Context) ([]*entity.Feed, error) {
	feeds, err := s.Repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all feeds: %w", err)
	}
	return feeds, nil
}

// Disable stops checking the feed. The row is kept.
func (s *Service) Disable(ctx context.Context, id string) error {
	if err := s.Repo.SetEnabled(ctx, id, false); err != nil {
		return s.mapNotFound("disable feed", err)
	}
	if err := s.unscheduleAndVerify(ctx, id); err != nil {
		return fmt.Errorf("disable feed: %w", err)
	}
	return nil
}

// Enable resumes checking the feed and clears its failure count.
func (s *Service) Enable(ctx context.Context, id string) error {
	if err := s.Repo.SetEnabled(ctx, id, true); err != nil {
		return s.mapNotFound("enable feed", err)
	}
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Scheduler.Schedule(ctx, f.Check()); err != nil {
		return fmt.Errorf("enable feed: %w", err)
	}
	return nil
}

// Delete removes the feed. The schedule entry is removed and verified gone
// before the delete commits; if verification fails the delete is rolled back,
// the feed remains and an enabled feed gets its schedule entry back.
func (s *Service) Delete(ctx context.Context, id string) error {
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.Repo.Delete(ctx, id, func(ctx context.Context) error {
		if err := s.unscheduleAndVerify(ctx, id); err != nil {
			s.restoreSchedule(ctx, f)
			return err
		}
		return nil
	})
	if err != nil {
		return s.mapNotFound("delete feed", err)
	}

	if s.Dedupe != nil {
		if err := s.Dedupe.Forget(ctx, id); err != nil {
			s.logger().Warn("dedupe history of deleted feed not cleared",
				slog.String("feed_id", id),
				slog.Any("error", err))
		}
	}
	s.logger().Info("feed deleted", slog.String("feed_id", id))
	return nil
}

// CheckNow runs the feed's check immediately.
func (s *Service) CheckNow(ctx context.Context, id string) error {
	if err := s.Scheduler.TriggerNow(ctx, id); err != nil {
		return fmt.Errorf("check feed: %w", err)
	}
	return nil
}

func (s *Service) unscheduleAndVerify(ctx context.Context, id string) error {
	if err := s.Scheduler.Unschedule(ctx, id); err != nil {
		return fmt.Errorf("unschedule: %w", err)
	}
	if err := s.Scheduler.Verify(ctx, id); err != nil {
		return fmt.Errorf("verify unschedule: %w", err)
	}
	return nil
}

// restoreSchedule reinstalls the entry of a feed whose delete rolled back.
// A failure is left to the next reconcile pass.
func (s *Service) restoreSchedule(ctx context.Context, f *entity.Feed) {
	if !f.Enabled {
		return
	}
	if err := s.Scheduler.Schedule(ctx, f.Check()); err != nil {
		s.logger().Error("schedule of kept feed not restored",
			slog.String("feed_id", f.ID),
			slog.Any("error", err))
	}
}

func (s *Service) mapNotFound(op string, err error) error {
	if errors.Is(err, entity.ErrNotFound) {
		return ErrFeedNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
