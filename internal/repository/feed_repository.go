package repository

import (
	"context"
	"time"

	"feedrelay/internal/domain/entity"
)

// FeedRepository is the feed registry. It is the source of truth the
// scheduler reconciles against.
type FeedRepository interface {
	// Get returns nil, nil when the feed does not exist.
	Get(ctx context.Context, id string) (*entity.Feed, error)
	ListEnabled(ctx context.Context) ([]*entity.Feed, error)
	ListByChat(ctx context.Context, chatID int64) ([]*entity.Feed, error)
	ListAll(ctx context.Context) ([]*entity.Feed, error)
	// Create returns entity.ErrConflict when the chat already follows the URL.
	Create(ctx context.Context, feed *entity.Feed) error
	// SetEnabled returns entity.ErrNotFound when no row matched. Enabling a
	// feed also clears its failure count.
	SetEnabled(ctx context.Context, id string, enabled bool) error
	// RecordCheck stores a successful check and resets the failure count.
	// An empty lastItemID keeps the stored one.
	RecordCheck(ctx context.Context, id, lastItemID string, checkedAt time.Time) error
	// IncrementFailure bumps the failure count and returns the new value.
	IncrementFailure(ctx context.Context, id string) (int, error)
	// Delete removes the feed inside a transaction. beforeCommit runs after
	// the delete and before COMMIT; a non-nil error rolls the delete back.
	Delete(ctx context.Context, id string, beforeCommit func(ctx context.Context) error) error
}
