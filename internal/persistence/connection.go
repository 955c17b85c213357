// Package persistence implements PersistenceSync: a PostgreSQL mirror of the
// venue's order, fill, and signal history, synced on a delete-then-insert
// (mutable tables) or skip-existing (append-only tables) basis.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bybit-perp-bot/internal/config"
)

// DB wraps sql.DB with the pool settings and retry-connect helper the teacher
// uses, adapted to a single fixed schema rather than migration-driven DDL.
type DB struct {
	*sql.DB
}

const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
	retryAttempts   = 5
	retryBaseDelay  = 500 * time.Millisecond
)

func dsn(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Username, cfg.Password, cfg.Address, cfg.Port, cfg.DBName)
}

// Connect opens a connection pool to Postgres, retrying with exponential
// backoff, and verifies it with a ping before returning.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	var sqlDB *sql.DB
	var err error

	delay := retryBaseDelay
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}

		sqlDB, err = sql.Open("pgx", dsn(cfg))
		if err != nil {
			continue
		}
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetConnMaxLifetime(connMaxLifetime)

		if err = sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			continue
		}
		return &DB{DB: sqlDB}, nil
	}

	return nil, fmt.Errorf("connect to database after %d attempts: %w", retryAttempts+1, err)
}

// EnsureSchema creates the five tables if they do not already exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS "TradeSignals" (
		id_timestamp BIGINT NOT NULL,
		date_time TIMESTAMP NOT NULL,
		pair TEXT NOT NULL,
		interval TEXT NOT NULL,
		signal TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price NUMERIC NOT NULL,
		indicator_values TEXT,
		details TEXT,
		order_link_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS "Orders" (
		order_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		price NUMERIC NOT NULL,
		qty NUMERIC NOT NULL,
		time_in_force TEXT NOT NULL,
		order_status TEXT NOT NULL,
		take_profit NUMERIC,
		stop_loss NUMERIC,
		last_exec_price NUMERIC,
		cum_exec_qty NUMERIC,
		cum_exec_value NUMERIC,
		cum_exec_fee NUMERIC,
		order_link_id TEXT,
		reduce_only BOOLEAN NOT NULL,
		close_on_trigger BOOLEAN NOT NULL,
		created_time TIMESTAMP NOT NULL,
		updated_time TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS "ClosedPnL" (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		order_id TEXT NOT NULL,
		side TEXT NOT NULL,
		qty NUMERIC NOT NULL,
		order_price NUMERIC NOT NULL,
		order_type TEXT NOT NULL,
		exec_type TEXT,
		closed_size NUMERIC,
		cum_entry_value NUMERIC,
		avg_entry_price NUMERIC,
		cum_exit_value NUMERIC,
		avg_exit_price NUMERIC,
		closed_pnl NUMERIC,
		fill_count INT,
		leverage NUMERIC,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS "UserTrades" (
		exec_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		side TEXT NOT NULL,
		symbol TEXT NOT NULL,
		order_price NUMERIC,
		order_qty NUMERIC,
		order_type TEXT,
		fee_rate NUMERIC,
		exec_price NUMERIC NOT NULL,
		exec_type TEXT,
		exec_qty NUMERIC NOT NULL,
		exec_fee NUMERIC,
		exec_value NUMERIC,
		is_maker BOOLEAN,
		trade_time TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS "ConditionalOrders" (
		stop_order_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		price NUMERIC,
		qty NUMERIC NOT NULL,
		time_in_force TEXT NOT NULL,
		order_status TEXT NOT NULL,
		trigger_price NUMERIC,
		order_link_id TEXT,
		created_time TIMESTAMP NOT NULL,
		updated_time TIMESTAMP NOT NULL
	)`,
}
