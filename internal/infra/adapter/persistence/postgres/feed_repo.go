package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/observability/metrics"
	"feedrelay/internal/repository"
)

const uniqueViolation = "23505"

const feedColumns = `id, chat_id, url, title, interval_minutes, last_item_id, enabled, failure_count, last_checked_at, created_at`

type FeedRepo struct{ db *sql.DB }

func NewFeedRepo(db *sql.DB) repository.FeedRepository {
	return &FeedRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeed(s scanner) (*entity.Feed, error) {
	var f entity.Feed
	var checked sql.NullTime
	if err := s.Scan(
		&f.ID, &f.ChatID, &f.URL, &f.Title, &f.IntervalMinutes,
		&f.LastItemID, &f.Enabled, &f.FailureCount, &checked, &f.CreatedAt,
	); err != nil {
		return nil, err
	}
	if checked.Valid {
		t := checked.Time
		f.LastCheckedAt = &t
	}
	return &f, nil
}

func (repo *FeedRepo) Get(ctx context.Context, id string) (*entity.Feed, error) {
	defer observe("feeds.get", time.Now())
	const query = `SELECT ` + feedColumns + ` FROM feeds WHERE id = $1`
	f, err := scanFeed(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return f, nil
}

func (repo *FeedRepo) ListEnabled(ctx context.Context) ([]*entity.Feed, error) {
	defer observe("feeds.list_enabled", time.Now())
	const query = `SELECT ` + feedColumns + ` FROM feeds WHERE enabled = TRUE ORDER BY created_at ASC, id ASC`
	return repo.list(ctx, "ListEnabled", query)
}

func (repo *FeedRepo) ListByChat(ctx context.Context, chatID int64) ([]*entity.Feed, error) {
	defer observe("feeds.list_by_chat", time.Now())
	const query = `SELECT ` + feedColumns + ` FROM feeds WHERE chat_id = $1 ORDER BY created_at ASC, id ASC`
	return repo.list(ctx, "ListByChat", query, chatID)
}

func (repo *FeedRepo) ListAll(ctx context.Context) ([]*entity.Feed, error) {
	defer observe("feeds.list_all", time.Now())
	const query = `SELECT ` + feedColumns + ` FROM feeds ORDER BY created_at ASC, id ASC`
	return repo.list(ctx, "ListAll", query)
}

func (repo *FeedRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.Feed, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	feeds := make([]*entity.Feed, 0, 32)
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return feeds, nil
}

func (repo *FeedRepo) Create(ctx context.Context, f *entity.Feed) error {
	defer observe("feeds.create", time.Now())
	const query = `
INSERT INTO feeds (id, chat_id, url, title, interval_minutes, last_item_id, enabled, failure_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, query,
		f.ID, f.ChatID, f.URL, f.Title, f.IntervalMinutes, f.LastItemID, f.Enabled, f.FailureCount, f.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("Create: %w", entity.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *FeedRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	defer observe("feeds.set_enabled", time.Now())
	const query = `
UPDATE feeds
SET enabled = $2,
    failure_count = CASE WHEN $2 THEN 0 ELSE failure_count END
WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id, enabled)
	if err != nil {
		return fmt.Errorf("SetEnabled: %w", err)
	}
	return requireRow("SetEnabled", res)
}

func (repo *FeedRepo) RecordCheck(ctx context.Context, id, lastItemID string, checkedAt time.Time) error {
	defer observe("feeds.record_check", time.Now())
	const query = `
UPDATE feeds
SET last_item_id = CASE WHEN $2 = '' THEN last_item_id ELSE $2 END,
    last_checked_at = $3,
    failure_count = 0
WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id, lastItemID, checkedAt)
	if err != nil {
		return fmt.Errorf("RecordCheck: %w", err)
	}
	return requireRow("RecordCheck", res)
}

func (repo *FeedRepo) IncrementFailure(ctx context.Context, id string) (int, error) {
	defer observe("feeds.increment_failure", time.Now())
	const query = `UPDATE feeds SET failure_count = failure_count + 1 WHERE id = $1 RETURNING failure_count`
	var n int
	err := repo.db.QueryRowContext(ctx, query, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("IncrementFailure: %w", entity.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("IncrementFailure: %w", err)
	}
	return n, nil
}

// Delete removes the feed row in a transaction and runs beforeCommit before
// COMMIT. Any error, including one from beforeCommit, rolls the delete back.
func (repo *FeedRepo) Delete(ctx context.Context, id string, beforeCommit func(ctx context.Context) error) (err error) {
	defer observe("feeds.delete", time.Now())
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Delete: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if err = requireRow("Delete", res); err != nil {
		return err
	}
	if beforeCommit != nil {
		if err = beforeCommit(ctx); err != nil {
			return fmt.Errorf("Delete: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("Delete: commit: %w", err)
	}
	return nil
}

func requireRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func observe(op string, start time.Time) {
	metrics.RecordDBQuery(op, time.Since(start))
}
