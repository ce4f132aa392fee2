package database

import "time"

// SnapshotRecord is a persisted account snapshot row
type SnapshotRecord struct {
	ID             int64     `json:"id"`
	SweepID        string    `json:"sweep_id"`
	AccountID      int64     `json:"account_id"`
	Balance        float64   `json:"balance"`
	Equity         float64   `json:"equity"`
	FloatingProfit float64   `json:"floating_profit"`
	MarginUsed     float64   `json:"margin_used"`
	FreeMargin     float64   `json:"free_margin"`
	MarginLevel    float64   `json:"margin_level"`
	Currency       string    `json:"currency"`
	Leverage       int       `json:"leverage"`
	CapturedAt     time.Time `json:"captured_at"`
}

// SweepRecord is a persisted sweep outcome row
type SweepRecord struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	RefreshedCount int       `json:"refreshed_count"`
	FailedCount    int       `json:"failed_count"`
	SkippedCount   int       `json:"skipped_count"`
	Aborted        bool      `json:"aborted"`
	AbortReason    string    `json:"abort_reason,omitempty"`
}

// PnLRecord is a persisted reconciliation result row. Detail carries the
// full per-account breakdown as JSON.
type PnLRecord struct {
	ID                   int64     `json:"id"`
	Label                string    `json:"label"`
	DisplayedPnL         float64   `json:"displayed_pnl"`
	NetProfitWithdrawals float64   `json:"net_profit_withdrawals"`
	TruePnL              float64   `json:"true_pnl"`
	AggregationBalance   float64   `json:"aggregation_balance"`
	VerificationDelta    float64   `json:"verification_delta"`
	NeedsReview          bool      `json:"needs_review"`
	Detail               []byte    `json:"detail,omitempty"`
	ComputedAt           time.Time `json:"computed_at"`
}
