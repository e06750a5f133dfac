package postgres

import (
	"context"
	"fmt"
	"time"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/repository"
	"feedrelay/internal/resilience/circuitbreaker"
)

// ScheduleRepo persists the scheduler's entries in scheduled_checks.
type ScheduleRepo struct{ db circuitbreaker.Querier }

func NewScheduleRepo(db circuitbreaker.Querier) repository.ScheduleRepository {
	return &ScheduleRepo{db: db}
}

func (repo *ScheduleRepo) Upsert(ctx context.Context, c entity.ScheduledCheck) error {
	defer observe("scheduled_checks.upsert", time.Now())
	const query = `
INSERT INTO scheduled_checks (feed_id, chat_id, feed_url, last_item_id, interval_minutes, scheduled_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (feed_id) DO UPDATE
SET chat_id = EXCLUDED.chat_id,
    feed_url = EXCLUDED.feed_url,
    last_item_id = EXCLUDED.last_item_id,
    interval_minutes = EXCLUDED.interval_minutes,
    scheduled_at = EXCLUDED.scheduled_at`
	if _, err := repo.db.ExecContext(ctx, query,
		c.FeedID, c.ChatID, c.FeedURL, c.LastItemID, c.IntervalMinutes, c.ScheduledAt); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *ScheduleRepo) Delete(ctx context.Context, feedID string) error {
	defer observe("scheduled_checks.delete", time.Now())
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM scheduled_checks WHERE feed_id = $1`, feedID); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func (repo *ScheduleRepo) Exists(ctx context.Context, feedID string) (bool, error) {
	defer observe("scheduled_checks.exists", time.Now())
	rows, err := repo.db.QueryContext(ctx, `SELECT 1 FROM scheduled_checks WHERE feed_id = $1`, feedID)
	if err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	defer func() { _ = rows.Close() }()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	return found, nil
}

func (repo *ScheduleRepo) List(ctx context.Context) ([]entity.ScheduledCheck, error) {
	defer observe("scheduled_checks.list", time.Now())
	const query = `
SELECT feed_id, chat_id, feed_url, last_item_id, interval_minutes, scheduled_at
FROM scheduled_checks
ORDER BY feed_id ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.ScheduledCheck
	for rows.Next() {
		var c entity.ScheduledCheck
		if err := rows.Scan(&c.FeedID, &c.ChatID, &c.FeedURL, &c.LastItemID, &c.IntervalMinutes, &c.ScheduledAt); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return out, nil
}

func (repo *ScheduleRepo) UpdateLastItem(ctx context.Context, feedID, itemID string) error {
	defer observe("scheduled_checks.update_last_item", time.Now())
	if _, err := repo.db.ExecContext(ctx,
		`UPDATE scheduled_checks SET last_item_id = $2 WHERE feed_id = $1`, feedID, itemID); err != nil {
		return fmt.Errorf("UpdateLastItem: %w", err)
	}
	return nil
}
