// Package database persists sweep audit history: account snapshots as
// they were captured, sweep outcomes, and reconciliation results. The
// live read path is served entirely from memory; these tables exist for
// investor reporting and after-the-fact investigation.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sweeps (
			id UUID PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			refreshed_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			skipped_count INTEGER NOT NULL,
			aborted BOOLEAN NOT NULL DEFAULT FALSE,
			abort_reason TEXT,
			failures JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sweeps_started_at ON sweeps(started_at)`,

		`CREATE TABLE IF NOT EXISTS account_snapshots (
			id SERIAL PRIMARY KEY,
			sweep_id UUID,
			account_id BIGINT NOT NULL,
			balance DECIMAL(20, 2) NOT NULL,
			equity DECIMAL(20, 2) NOT NULL,
			floating_profit DECIMAL(20, 2) NOT NULL,
			margin_used DECIMAL(20, 2),
			free_margin DECIMAL(20, 2),
			margin_level DECIMAL(10, 2),
			currency VARCHAR(10),
			leverage INTEGER,
			captured_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_account_snapshots_account ON account_snapshots(account_id, captured_at)`,
		`CREATE INDEX IF NOT EXISTS idx_account_snapshots_sweep ON account_snapshots(sweep_id)`,

		`CREATE TABLE IF NOT EXISTS pnl_results (
			id SERIAL PRIMARY KEY,
			label VARCHAR(100) NOT NULL,
			displayed_pnl DECIMAL(20, 2) NOT NULL,
			net_profit_withdrawals DECIMAL(20, 2) NOT NULL,
			true_pnl DECIMAL(20, 2) NOT NULL,
			aggregation_balance DECIMAL(20, 2),
			verification_delta DECIMAL(20, 2),
			needs_review BOOLEAN NOT NULL DEFAULT FALSE,
			detail JSONB,
			computed_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pnl_results_label ON pnl_results(label, computed_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
