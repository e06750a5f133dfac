// Package admin serves the operator API under /admin: feed management,
// schedule inspection and resilience state.
package admin

import (
	"context"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/ratelimit"
	"feedrelay/internal/resilience/recovery"
	"feedrelay/internal/usecase/feed"
	"feedrelay/internal/usecase/schedule"
)

// FeedService is implemented by *feed.Service.
type FeedService interface {
	Subscribe(ctx context.Context, in feed.SubscribeInput) (*entity.Feed, error)
	Get(ctx context.Context, id string) (*entity.Feed, error)
	List(ctx context.Context, chatID int64) ([]*entity.Feed, error)
	ListAll(ctx context.Context) ([]*entity.Feed, error)
	Disable(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	CheckNow(ctx context.Context, id string) error
}

// Scheduler is implemented by *schedule.Scheduler.
type Scheduler interface {
	Entries() []schedule.Entry
	IsScheduled(feedID string) bool
	InFlight() int
	Inconsistencies() map[string]int
	Reconcile(ctx context.Context, thorough bool) (schedule.Report, error)
}

// Breakers is implemented by *circuitbreaker.SourceBreakers.
type Breakers interface {
	Snapshot() map[string]circuitbreaker.SourceStatus
	Reset(source string)
}

// Limiter is implemented by *ratelimit.Limiter.
type Limiter interface {
	Snapshot() map[string]ratelimit.SourceStats
}

// Recovery is implemented by *recovery.Manager.
type Recovery interface {
	Snapshot() map[string]recovery.Stats
	Reset(source string)
}

// Queue is implemented by *deliver.ReplayQueue.
type Queue interface {
	Len(ctx context.Context) int
}
