// Package postgres provides PostgreSQL implementations of storage ports.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sensible defaults for connection pooling.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// DB wraps a PostgreSQL connection pool.
type DB struct {
	*sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, cfg Config) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS credit_balances (
	user_id       TEXT PRIMARY KEY,
	total_credits BIGINT NOT NULL DEFAULT 0 CHECK (total_credits >= 0),
	used_credits  BIGINT NOT NULL DEFAULT 0 CHECK (used_credits >= 0),
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	CHECK (used_credits <= total_credits)
);

CREATE TABLE IF NOT EXISTS credit_usage_events (
	seq          BIGSERIAL,
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	model_id     TEXT NOT NULL,
	credits_used BIGINT NOT NULL CHECK (credits_used > 0),
	tokens_used  BIGINT NOT NULL DEFAULT 0 CHECK (tokens_used >= 0),
	request_type TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_usage_user_time
	ON credit_usage_events(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS credit_purchases (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	plan_id           TEXT NOT NULL,
	credits           BIGINT NOT NULL CHECK (credits > 0),
	amount            BIGINT NOT NULL DEFAULT 0,
	currency          TEXT NOT NULL DEFAULT '',
	payment_reference TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending'
	                  CHECK (status IN ('pending', 'completed', 'failed')),
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_credit_purchases_user_time
	ON credit_purchases(user_id, created_at DESC);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_purchases_reference
	ON credit_purchases(payment_reference) WHERE payment_reference <> '';
`

// Migrate creates the ledger tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// isUniqueViolation reports SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
