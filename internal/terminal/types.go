// Package terminal adapts the proprietary trading-terminal client library.
// The terminal holds exactly one authenticated session at a time; every
// caller in this repository goes through the Session interface so that the
// single-connection constraint stays in one place.
package terminal

import "time"

// SnapshotStatus tags the freshness of a cached account snapshot.
type SnapshotStatus string

const (
	StatusOK             SnapshotStatus = "ok"
	StatusStale          SnapshotStatus = "stale"
	StatusNeverPopulated SnapshotStatus = "never_populated"
	StatusError          SnapshotStatus = "error"
)

// AccountSnapshot is the terminal's view of one account at a point in time.
// Equity = Balance + FloatingProfit is enforced by the terminal itself and
// is not recomputed here.
type AccountSnapshot struct {
	AccountID      int64          `json:"account_id"`
	Balance        float64        `json:"balance"`
	Equity         float64        `json:"equity"`
	FloatingProfit float64        `json:"floating_profit"`
	MarginUsed     float64        `json:"margin_used"`
	FreeMargin     float64        `json:"free_margin"`
	MarginLevel    float64        `json:"margin_level"`
	Currency       string         `json:"currency"`
	Leverage       int            `json:"leverage"`
	CapturedAt     time.Time      `json:"captured_at"`
	Status         SnapshotStatus `json:"status"`
}

// Direction is the flow side of a ledger entry, derived from the sign of
// its amount.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// LedgerEntry is one balance-affecting operation from the terminal's
// deal history. Immutable once fetched. Ticket numbers reset per trading
// session on some deployments, so the dedupe key is (AccountID, Ticket).
type LedgerEntry struct {
	Ticket    int64     `json:"ticket"`
	AccountID int64     `json:"account_id"`
	Time      time.Time `json:"time"`
	Amount    float64   `json:"amount"` // signed, negative = outflow
	Comment   string    `json:"comment"`
}

// Direction returns the flow side implied by the entry's sign.
func (e LedgerEntry) Direction() Direction {
	if e.Amount < 0 {
		return DirectionOut
	}
	return DirectionIn
}

// Credentials are the per-account login secrets resolved just-in-time by
// the credential store.
type Credentials struct {
	Password string
	Server   string
}
