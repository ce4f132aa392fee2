package database

import (
	"context"
	"encoding/json"
	"fmt"

	"fund-terminal-bridge/internal/reconcile"
	"fund-terminal-bridge/internal/scheduler"
	"fund-terminal-bridge/internal/terminal"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SWEEPS
// ============================================================================

// SaveSweep records the outcome of a refresh sweep
func (r *Repository) SaveSweep(ctx context.Context, result scheduler.SweepResult) error {
	failures, err := json.Marshal(result.Failed)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep failures: %w", err)
	}

	query := `
		INSERT INTO sweeps (id, started_at, finished_at, refreshed_count, failed_count, skipped_count, aborted, abort_reason, failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		result.ID, result.StartedAt, result.FinishedAt,
		len(result.Refreshed), len(result.Failed), len(result.Skipped),
		result.Aborted, result.AbortReason, failures,
	)
	return err
}

// SweepHistory returns the most recent sweep outcomes, newest first
func (r *Repository) SweepHistory(ctx context.Context, limit int) ([]SweepRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, started_at, finished_at, refreshed_count, failed_count, skipped_count, aborted, COALESCE(abort_reason, '')
		FROM sweeps
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}
	defer rows.Close()

	var records []SweepRecord
	for rows.Next() {
		var rec SweepRecord
		if err := rows.Scan(
			&rec.ID, &rec.StartedAt, &rec.FinishedAt,
			&rec.RefreshedCount, &rec.FailedCount, &rec.SkippedCount,
			&rec.Aborted, &rec.AbortReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ============================================================================
// ACCOUNT SNAPSHOTS
// ============================================================================

// SaveSnapshot records a captured account snapshot
func (r *Repository) SaveSnapshot(ctx context.Context, sweepID string, snap terminal.AccountSnapshot) error {
	query := `
		INSERT INTO account_snapshots (sweep_id, account_id, balance, equity, floating_profit, margin_used, free_margin, margin_level, currency, leverage, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		sweepID, snap.AccountID, snap.Balance, snap.Equity, snap.FloatingProfit,
		snap.MarginUsed, snap.FreeMargin, snap.MarginLevel,
		snap.Currency, snap.Leverage, snap.CapturedAt,
	)
	return err
}

// SnapshotHistory returns an account's persisted snapshots, newest first
func (r *Repository) SnapshotHistory(ctx context.Context, accountID int64, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, COALESCE(sweep_id::text, ''), account_id, balance, equity, floating_profit,
		       COALESCE(margin_used, 0), COALESCE(free_margin, 0), COALESCE(margin_level, 0),
		       COALESCE(currency, ''), COALESCE(leverage, 0), captured_at
		FROM account_snapshots
		WHERE account_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(
			&rec.ID, &rec.SweepID, &rec.AccountID,
			&rec.Balance, &rec.Equity, &rec.FloatingProfit,
			&rec.MarginUsed, &rec.FreeMargin, &rec.MarginLevel,
			&rec.Currency, &rec.Leverage, &rec.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ============================================================================
// PNL RESULTS
// ============================================================================

// SavePnLResult records a reconciliation result with its full breakdown
func (r *Repository) SavePnLResult(ctx context.Context, result reconcile.AggregatePnL) error {
	detail, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal pnl detail: %w", err)
	}

	query := `
		INSERT INTO pnl_results (label, displayed_pnl, net_profit_withdrawals, true_pnl, aggregation_balance, verification_delta, needs_review, detail, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		result.Label, result.DisplayedPnL, result.NetProfitWithdrawals, result.TruePnL,
		result.AggregationBalance, result.VerificationDelta, result.NeedsReview,
		detail, result.ComputedAt,
	)
	return err
}

// PnLHistory returns persisted reconciliation results for a label, newest first
func (r *Repository) PnLHistory(ctx context.Context, label string, limit int) ([]PnLRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, label, displayed_pnl, net_profit_withdrawals, true_pnl,
		       COALESCE(aggregation_balance, 0), COALESCE(verification_delta, 0),
		       needs_review, detail, computed_at
		FROM pnl_results
		WHERE label = $1
		ORDER BY computed_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, label, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pnl results: %w", err)
	}
	defer rows.Close()

	var records []PnLRecord
	for rows.Next() {
		var rec PnLRecord
		if err := rows.Scan(
			&rec.ID, &rec.Label, &rec.DisplayedPnL, &rec.NetProfitWithdrawals, &rec.TruePnL,
			&rec.AggregationBalance, &rec.VerificationDelta,
			&rec.NeedsReview, &rec.Detail, &rec.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pnl result: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
