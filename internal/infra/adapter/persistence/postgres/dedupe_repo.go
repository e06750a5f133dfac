package postgres

import (
	"context"
	"fmt"
	"time"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/repository"
	"feedrelay/internal/resilience/circuitbreaker"
)

// DedupeRepo persists delivered-item records in dedupe_records.
type DedupeRepo struct{ db circuitbreaker.Querier }

func NewDedupeRepo(db circuitbreaker.Querier) repository.DedupeRepository {
	return &DedupeRepo{db: db}
}

func (repo *DedupeRepo) Upsert(ctx context.Context, rec entity.DedupeRecord) error {
	defer observe("dedupe_records.upsert", time.Now())
	const query = `
INSERT INTO dedupe_records (feed_id, item_id, seen_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (feed_id, item_id) DO UPDATE
SET seen_at = EXCLUDED.seen_at,
    expires_at = EXCLUDED.expires_at`
	if _, err := repo.db.ExecContext(ctx, query, rec.FeedID, rec.ItemID, rec.SeenAt, rec.ExpiresAt); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *DedupeRepo) ListLive(ctx context.Context, now time.Time) ([]entity.DedupeRecord, error) {
	defer observe("dedupe_records.list_live", time.Now())
	const query = `
SELECT feed_id, item_id, seen_at, expires_at
FROM dedupe_records
WHERE expires_at > $1`
	rows, err := repo.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("ListLive: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]entity.DedupeRecord, 0, 256)
	for rows.Next() {
		var r entity.DedupeRecord
		if err := rows.Scan(&r.FeedID, &r.ItemID, &r.SeenAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("ListLive: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListLive: %w", err)
	}
	return out, nil
}

func (repo *DedupeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer observe("dedupe_records.delete_expired", time.Now())
	res, err := repo.db.ExecContext(ctx, `DELETE FROM dedupe_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("DeleteExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteExpired: %w", err)
	}
	return n, nil
}

func (repo *DedupeRepo) DeleteFeed(ctx context.Context, feedID string) error {
	defer observe("dedupe_records.delete_feed", time.Now())
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM dedupe_records WHERE feed_id = $1`, feedID); err != nil {
		return fmt.Errorf("DeleteFeed: %w", err)
	}
	return nil
}
