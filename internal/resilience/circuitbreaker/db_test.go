package circuitbreaker_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sony/gobreaker"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/infra/adapter/persistence/postgres"
	"feedrelay/internal/resilience/circuitbreaker"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// The schedule repository behaves the same over the bare pool and the breaker.
func TestQuerier_ScheduleRepoDirectAndGuarded(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	check := entity.ScheduledCheck{FeedID: "f1", ChatID: 7, FeedURL: "https://example.com/rss", IntervalMinutes: 5, ScheduledAt: at}

	tests := []struct {
		name string
		wrap func(*sql.DB) circuitbreaker.Querier
	}{
		{"direct", func(db *sql.DB) circuitbreaker.Querier { return db }},
		{"guarded", func(db *sql.DB) circuitbreaker.Querier { return circuitbreaker.NewDBCircuitBreaker(db) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO scheduled_checks`)).
				WithArgs("f1", int64(7), "https://example.com/rss", "", 5, at).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM scheduled_checks`)).
				WithArgs("f1").
				WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

			repo := postgres.NewScheduleRepo(tt.wrap(db))
			ctx := context.Background()
			if err := repo.Upsert(ctx, check); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			ok, err := repo.Exists(ctx, "f1")
			if err != nil || !ok {
				t.Errorf("Exists = %v, %v; want true", ok, err)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestDBCircuitBreaker_DedupeWritesTripBreaker(t *testing.T) {
	db, mock := newMockDB(t)
	guarded := circuitbreaker.NewDBCircuitBreaker(db)
	repo := postgres.NewDedupeRepo(guarded)
	ctx := context.Background()
	rec := entity.DedupeRecord{FeedID: "f1", ItemID: "g1", SeenAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}

	minRequests := int(circuitbreaker.DBConfig().MinRequests)
	for i := 0; i < minRequests; i++ {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO dedupe_records`)).WillReturnError(sql.ErrConnDone)
		if err := repo.Upsert(ctx, rec); !errors.Is(err, sql.ErrConnDone) {
			t.Fatalf("attempt %d: want ErrConnDone, got %v", i+1, err)
		}
		if i < minRequests-1 && guarded.IsOpen() {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
	}
	if guarded.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", guarded.State())
	}

	if _, err := repo.DeleteExpired(ctx, time.Now()); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("DeleteExpired through open breaker: want ErrOpenState, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestDBCircuitBreaker_ScheduleListRecoversAfterTimeout(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := circuitbreaker.DBConfig()
	cfg.MinRequests = 1
	cfg.MaxRequests = 1
	cfg.Timeout = 20 * time.Millisecond
	guarded := circuitbreaker.NewDBCircuitBreakerWithConfig(db, cfg)
	repo := postgres.NewScheduleRepo(guarded)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM scheduled_checks`)).WillReturnError(errors.New("connection refused"))
	if _, err := repo.List(ctx); err == nil {
		t.Fatal("List should fail")
	}
	if !guarded.IsOpen() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(30 * time.Millisecond)
	if guarded.State() != gobreaker.StateHalfOpen {
		t.Fatalf("state = %s, want half-open", guarded.State())
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM scheduled_checks`)).
		WillReturnRows(sqlmock.NewRows([]string{"feed_id", "chat_id", "feed_url", "last_item_id", "interval_minutes", "scheduled_at"}).
			AddRow("f1", int64(7), "https://example.com/rss", "", 5, time.Now()))
	checks, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List in half-open: %v", err)
	}
	if len(checks) != 1 || checks[0].FeedID != "f1" {
		t.Errorf("List = %+v", checks)
	}
	if guarded.State() != gobreaker.StateClosed {
		t.Errorf("state = %s, want closed after a half-open success", guarded.State())
	}
	expectationsMet(t, mock)
}

// QueryRowContext defers its error to Scan, so it reaches the pool even
// while the breaker is open.
func TestDBCircuitBreaker_QueryRowBypassesOpenBreaker(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := circuitbreaker.DBConfig()
	cfg.MinRequests = 1
	guarded := circuitbreaker.NewDBCircuitBreakerWithConfig(db, cfg)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM dedupe_records`)).WillReturnError(sql.ErrConnDone)
	if err := postgres.NewDedupeRepo(guarded).DeleteFeed(ctx, "f1"); err == nil {
		t.Fatal("DeleteFeed should fail")
	}
	if !guarded.IsOpen() {
		t.Fatal("breaker should be open")
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM dedupe_records`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	var n int
	if err := guarded.QueryRowContext(ctx, `SELECT count(*) FROM dedupe_records`).Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
	if guarded.DB() != db {
		t.Error("DB() should return the wrapped pool")
	}
	expectationsMet(t, mock)
}

func TestDBConfig(t *testing.T) {
	cfg := circuitbreaker.DBConfig()
	if cfg.Name != "database" {
		t.Errorf("Name = %q, want database", cfg.Name)
	}
	if cfg.FailureThreshold != 1.0 || cfg.MinRequests != 5 {
		t.Errorf("trip rule = %v over %d, want every one of 5 requests failing", cfg.FailureThreshold, cfg.MinRequests)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}
