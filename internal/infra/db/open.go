// Package db opens the Postgres pool and owns the schema.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNoDSN is returned by Open when DATABASE_URL is unset.
var ErrNoDSN = errors.New("DATABASE_URL not set")

// PoolConfig holds the connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns 25 open, 10 idle, 1h lifetime and 30m idle time.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// Open connects to DATABASE_URL with the DB_* pool settings and pings it.
func Open(ctx context.Context) (*sql.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, ErrNoDSN
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cfg := PoolConfigFromEnv()
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	slog.Info("database connection pool configured",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// PoolConfigFromEnv overlays DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS,
// DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME on the defaults. Invalid or
// non-positive values are ignored.
func PoolConfigFromEnv() PoolConfig {
	cfg := DefaultPoolConfig()
	if v, ok := positiveInt("DB_MAX_OPEN_CONNS"); ok {
		cfg.MaxOpenConns = v
	}
	if v, ok := positiveInt("DB_MAX_IDLE_CONNS"); ok {
		cfg.MaxIdleConns = v
	}
	if v, ok := positiveDuration("DB_CONN_MAX_LIFETIME"); ok {
		cfg.ConnMaxLifetime = v
	}
	if v, ok := positiveDuration("DB_CONN_MAX_IDLE_TIME"); ok {
		cfg.ConnMaxIdleTime = v
	}
	return cfg
}

func positiveInt(key string) (int, bool) {
	v, err := strconv.Atoi(os.Getenv(key))
	return v, err == nil && v > 0
}

func positiveDuration(key string) (time.Duration, bool) {
	v, err := time.ParseDuration(os.Getenv(key))
	return v, err == nil && v > 0
}
