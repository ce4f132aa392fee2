// Package reconcile computes true profit/loss from cached snapshots and
// classified ledger history.
//
// The whole subsystem exists to get one equation right:
//
//	true_pnl = displayed_pnl + (profit withdrawals - profit returns)
//
// Capital movements between managed accounts and external deposits or
// withdrawals are reported for audit visibility but never enter that
// equation. Everything here is computed from data already pulled into
// memory; reconciliation never touches the terminal connection.
package reconcile

import (
	"fmt"
	"math"
	"time"

	"fund-terminal-bridge/internal/cache"
	"fund-terminal-bridge/internal/events"
	"fund-terminal-bridge/internal/ledger"
	"fund-terminal-bridge/internal/registry"
	"fund-terminal-bridge/internal/terminal"
)

// ReasonMissingSnapshot marks an account that could not contribute to an
// aggregate because it has never been successfully refreshed.
const ReasonMissingSnapshot = "excluded_due_to_missing_snapshot"

// AccountPnL is the reconciled result for one trading account.
type AccountPnL struct {
	AccountID              int64                   `json:"account_id"`
	Fund                   string                  `json:"fund,omitempty"`
	DisplayedPnL           float64                 `json:"displayed_pnl"`
	TotalProfitWithdrawals float64                 `json:"total_profit_withdrawals"`
	TotalProfitReturns     float64                 `json:"total_profit_returns"`
	NetProfitWithdrawals   float64                 `json:"net_profit_withdrawals"`
	TruePnL                float64                 `json:"true_pnl"`
	TransferVolume         float64                 `json:"inter_account_transfer_volume"`
	ExternalVolume         float64                 `json:"external_volume"`
	UnknownCount           int                     `json:"unknown_count"`
	NeedsReview            bool                    `json:"needs_review"`
	SnapshotAt             time.Time               `json:"snapshot_at"`
	Classifications        []ledger.Classification `json:"classifications,omitempty"`
}

// ExcludedAccount names an account left out of an aggregate and why.
type ExcludedAccount struct {
	AccountID int64  `json:"account_id"`
	Reason    string `json:"reason"`
}

// AggregatePnL is the reconciled result for a fund, manager, or the whole
// portfolio.
type AggregatePnL struct {
	Label                string            `json:"label"`
	Accounts             []AccountPnL      `json:"accounts"`
	Excluded             []ExcludedAccount `json:"excluded,omitempty"`
	DisplayedPnL         float64           `json:"displayed_pnl"`
	NetProfitWithdrawals float64           `json:"net_profit_withdrawals"`
	TruePnL              float64           `json:"true_pnl"`

	// Verification cross-references the aggregation account: the sum of
	// every trading account's net profit withdrawals should match its
	// balance within the tolerance. A mismatch flags the result for
	// review; it does not fail the computation.
	AggregationAccountID  int64   `json:"aggregation_account_id"`
	AggregationBalance    float64 `json:"aggregation_balance"`
	AggregationMissing    bool    `json:"aggregation_missing,omitempty"`
	VerificationDelta     float64 `json:"verification_delta"`
	VerificationTolerance float64 `json:"verification_tolerance"`

	NeedsReview bool      `json:"needs_review"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Reconciler derives P&L results from the caches. Stateless apart from its
// wiring; calling it twice over the same inputs yields identical results.
type Reconciler struct {
	registry   *registry.Registry
	classifier *ledger.Classifier
	snapshots  *cache.AccountCache
	ledgers    *cache.LedgerCache
	tolerance  float64
	bus        *events.Bus // optional
}

// NewReconciler wires a reconciler over the shared caches.
func NewReconciler(reg *registry.Registry, classifier *ledger.Classifier, snapshots *cache.AccountCache, ledgers *cache.LedgerCache, tolerance float64, bus *events.Bus) *Reconciler {
	return &Reconciler{
		registry:   reg,
		classifier: classifier,
		snapshots:  snapshots,
		ledgers:    ledgers,
		tolerance:  tolerance,
		bus:        bus,
	}
}

// Account reconciles one account from explicit inputs. Pure: no cache
// access, no shared state.
func (r *Reconciler) Account(snap terminal.AccountSnapshot, entries []terminal.LedgerEntry, fund string) AccountPnL {
	out := AccountPnL{
		AccountID:    snap.AccountID,
		Fund:         fund,
		DisplayedPnL: snap.FloatingProfit,
		SnapshotAt:   snap.CapturedAt,
	}

	for _, c := range r.classifier.ClassifyAll(entries) {
		out.Classifications = append(out.Classifications, c)
		switch c.Category {
		case ledger.CategoryProfitWithdrawal:
			out.TotalProfitWithdrawals += c.Amount
		case ledger.CategoryProfitReturn:
			out.TotalProfitReturns += c.Amount
		case ledger.CategoryTransferOut, ledger.CategoryTransferIn:
			out.TransferVolume += c.Amount
		case ledger.CategoryExternalDeposit, ledger.CategoryExternalWithdrawal:
			out.ExternalVolume += c.Amount
		case ledger.CategoryUnknown:
			out.UnknownCount++
		}
	}

	out.NetProfitWithdrawals = out.TotalProfitWithdrawals - out.TotalProfitReturns
	out.TruePnL = out.DisplayedPnL + out.NetProfitWithdrawals
	out.NeedsReview = out.UnknownCount > 0
	return out
}

// AccountByID reconciles one account from the caches.
func (r *Reconciler) AccountByID(accountID int64) (AccountPnL, error) {
	acct, ok := r.registry.Get(accountID)
	if !ok {
		return AccountPnL{}, fmt.Errorf("account %d is not in the registry", accountID)
	}

	snap, ok := r.snapshots.Get(accountID)
	if !ok {
		return AccountPnL{}, fmt.Errorf("account %d: %s", accountID, ReasonMissingSnapshot)
	}

	entries, _ := r.ledgers.Entries(accountID)
	return r.Account(snap, entries, acct.Fund), nil
}

// Fund reconciles the trading accounts carrying the given fund label.
func (r *Reconciler) Fund(label string) (AggregatePnL, error) {
	accounts := r.registry.TradingByFund(label)
	if len(accounts) == 0 {
		return AggregatePnL{}, fmt.Errorf("no trading accounts carry fund label %q", label)
	}
	return r.aggregate(label, accounts), nil
}

// Portfolio reconciles every trading account in the registry.
func (r *Reconciler) Portfolio() AggregatePnL {
	return r.aggregate("portfolio", r.registry.Trading())
}

func (r *Reconciler) aggregate(label string, accounts []registry.Account) AggregatePnL {
	out := AggregatePnL{
		Label:                 label,
		AggregationAccountID:  r.registry.Aggregation().ID,
		VerificationTolerance: r.tolerance,
		ComputedAt:            time.Now(),
	}

	for _, acct := range accounts {
		snap, ok := r.snapshots.Get(acct.ID)
		if !ok {
			out.Excluded = append(out.Excluded, ExcludedAccount{AccountID: acct.ID, Reason: ReasonMissingSnapshot})
			out.NeedsReview = true
			continue
		}

		entries, _ := r.ledgers.Entries(acct.ID)
		pnl := r.Account(snap, entries, acct.Fund)
		pnl.Classifications = nil // keep aggregates lean; per-account reads carry the detail
		out.Accounts = append(out.Accounts, pnl)

		out.DisplayedPnL += pnl.DisplayedPnL
		out.TruePnL += pnl.TruePnL
		out.NetProfitWithdrawals += pnl.NetProfitWithdrawals
		if pnl.NeedsReview {
			out.NeedsReview = true
		}
	}

	r.verify(&out)
	return out
}

// verify cross-references the aggregation account. The sum is taken over
// every trading account's ledger, not just the aggregate's subset: the
// aggregation account receives withdrawals from the whole portfolio, so
// only the portfolio-wide sum is comparable to its balance.
func (r *Reconciler) verify(out *AggregatePnL) {
	aggSnap, ok := r.snapshots.Get(out.AggregationAccountID)
	if !ok {
		out.AggregationMissing = true
		out.NeedsReview = true
		return
	}
	out.AggregationBalance = aggSnap.Balance

	var totalNet float64
	for _, acct := range r.registry.Trading() {
		entries, found := r.ledgers.Entries(acct.ID)
		if !found {
			continue
		}
		for _, c := range r.classifier.ClassifyAll(entries) {
			switch c.Category {
			case ledger.CategoryProfitWithdrawal:
				totalNet += c.Amount
			case ledger.CategoryProfitReturn:
				totalNet -= c.Amount
			}
		}
	}

	out.VerificationDelta = aggSnap.Balance - totalNet
	if math.Abs(out.VerificationDelta) > r.tolerance {
		out.NeedsReview = true
		if r.bus != nil {
			r.bus.PublishVerificationMismatch(out.Label, out.VerificationDelta, r.tolerance)
		}
	}
}
