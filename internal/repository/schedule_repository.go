package repository

import (
	"context"

	"feedrelay/internal/domain/entity"
)

// ScheduleRepository persists the scheduler's entries so that they survive a
// restart. Rows are keyed by feed ID and carry no foreign key to feeds.
type ScheduleRepository interface {
	Upsert(ctx context.Context, check entity.ScheduledCheck) error
	// Delete is a no-op for a missing row.
	Delete(ctx context.Context, feedID string) error
	Exists(ctx context.Context, feedID string) (bool, error)
	List(ctx context.Context) ([]entity.ScheduledCheck, error)
	UpdateLastItem(ctx context.Context, feedID, itemID string) error
}
