package repository

import (
	"context"
	"time"

	"feedrelay/internal/domain/entity"
)

// DedupeRepository persists seen-item records.
type DedupeRepository interface {
	// Upsert inserts the record or refreshes SeenAt and ExpiresAt.
	Upsert(ctx context.Context, rec entity.DedupeRecord) error
	// ListLive returns records with ExpiresAt after now.
	ListLive(ctx context.Context, now time.Time) ([]entity.DedupeRecord, error)
	// DeleteExpired removes records with ExpiresAt at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteFeed removes every record of a feed.
	DeleteFeed(ctx context.Context, feedID string) error
}
