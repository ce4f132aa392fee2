// Package ledger classifies balance-affecting terminal history entries.
//
// The terminal has no structured transfer-type field; the only signal is
// the free-text comment, which embeds the counterpart account number for
// transfers ("Transfer to #886528"). Classification is therefore an
// ordered rule engine over the normalized comment, with "unknown" as the
// safe default for anything the rules cannot place. Unknown entries are
// surfaced for manual review, never silently counted into P&L.
package ledger

import (
	"regexp"
	"strconv"
	"strings"

	"fund-terminal-bridge/internal/registry"
	"fund-terminal-bridge/internal/terminal"
)

// Category is the closed set of ledger entry classes.
type Category string

const (
	CategoryProfitWithdrawal   Category = "profit_withdrawal"
	CategoryProfitReturn       Category = "profit_return"
	CategoryTransferOut        Category = "inter_account_transfer_out"
	CategoryTransferIn         Category = "inter_account_transfer_in"
	CategoryExternalDeposit    Category = "external_deposit"
	CategoryExternalWithdrawal Category = "external_withdrawal"
	CategoryUnknown            Category = "unknown"
)

// Classification decorates one ledger entry with its category. Amount is
// always the absolute value; the flow side lives in Direction.
type Classification struct {
	Ticket       int64              `json:"ticket"`
	AccountID    int64              `json:"account_id"`
	Category     Category           `json:"category"`
	Counterpart  int64              `json:"counterpart,omitempty"`
	Amount       float64            `json:"amount"`
	Direction    terminal.Direction `json:"direction"`
	IncludeInPnL bool               `json:"include_in_pnl"`
	NeedsReview  bool               `json:"needs_review"`
	Rule         string             `json:"rule"`
}

// entryView is the normalized input the rules operate on.
type entryView struct {
	comment     string // lowercased
	counterpart int64  // 0 when the comment embeds no account number
	direction   terminal.Direction
}

// rule pairs a name with a predicate. The first rule that matches decides
// the category; order is load-bearing.
type rule struct {
	name  string
	match func(c *Classifier, v entryView) (Category, bool)
}

// Classifier assigns categories relative to a fixed account registry.
// It is pure and safe for concurrent use.
type Classifier struct {
	aggregationID int64
	managed       map[int64]bool
	rules         []rule
}

// Counterpart account numbers appear either as "#886528" or as a bare
// 5+ digit token.
var (
	hashAccountRe = regexp.MustCompile(`#(\d+)`)
	bareAccountRe = regexp.MustCompile(`\b(\d{5,})\b`)
)

// NewClassifier builds a classifier over the given registry.
func NewClassifier(reg *registry.Registry) *Classifier {
	managed := make(map[int64]bool, reg.Size())
	for _, a := range reg.All() {
		managed[a.ID] = true
	}

	c := &Classifier{
		aggregationID: reg.Aggregation().ID,
		managed:       managed,
	}
	c.rules = []rule{
		{"aggregation_outflow", func(c *Classifier, v entryView) (Category, bool) {
			if v.counterpart == c.aggregationID && v.direction == terminal.DirectionOut {
				return CategoryProfitWithdrawal, true
			}
			return "", false
		}},
		{"aggregation_inflow", func(c *Classifier, v entryView) (Category, bool) {
			if v.counterpart == c.aggregationID && v.direction == terminal.DirectionIn {
				return CategoryProfitReturn, true
			}
			return "", false
		}},
		{"managed_transfer", func(c *Classifier, v entryView) (Category, bool) {
			if v.counterpart != 0 && c.managed[v.counterpart] {
				if v.direction == terminal.DirectionOut {
					return CategoryTransferOut, true
				}
				return CategoryTransferIn, true
			}
			return "", false
		}},
		{"unmanaged_counterpart", func(c *Classifier, v entryView) (Category, bool) {
			if v.counterpart != 0 {
				return CategoryUnknown, true
			}
			return "", false
		}},
		{"external_deposit", func(c *Classifier, v entryView) (Category, bool) {
			if strings.Contains(v.comment, "deposit") {
				return CategoryExternalDeposit, true
			}
			return "", false
		}},
		{"external_withdrawal", func(c *Classifier, v entryView) (Category, bool) {
			if strings.Contains(v.comment, "withdrawal") && !strings.Contains(v.comment, "transfer") {
				return CategoryExternalWithdrawal, true
			}
			return "", false
		}},
	}
	return c
}

// AggregationID returns the aggregation account the classifier resolves
// profit withdrawals against.
func (c *Classifier) AggregationID() int64 {
	return c.aggregationID
}

// Classify assigns exactly one category to the entry.
func (c *Classifier) Classify(e terminal.LedgerEntry) Classification {
	v := entryView{
		comment:     strings.ToLower(e.Comment),
		counterpart: extractCounterpart(e.Comment),
		direction:   e.Direction(),
	}

	amount := e.Amount
	if amount < 0 {
		amount = -amount
	}

	out := Classification{
		Ticket:      e.Ticket,
		AccountID:   e.AccountID,
		Category:    CategoryUnknown,
		Counterpart: v.counterpart,
		Amount:      amount,
		Direction:   v.direction,
		Rule:        "fallback_unknown",
	}

	for _, r := range c.rules {
		if cat, ok := r.match(c, v); ok {
			out.Category = cat
			out.Rule = r.name
			break
		}
	}

	out.IncludeInPnL = out.Category == CategoryProfitWithdrawal || out.Category == CategoryProfitReturn
	out.NeedsReview = out.Category == CategoryUnknown
	return out
}

// ClassifyAll classifies a batch of entries, preserving order.
func (c *Classifier) ClassifyAll(entries []terminal.LedgerEntry) []Classification {
	out := make([]Classification, 0, len(entries))
	for _, e := range entries {
		out = append(out, c.Classify(e))
	}
	return out
}

// extractCounterpart pulls an embedded account number out of the comment,
// preferring the explicit "#12345" form over bare digit runs.
func extractCounterpart(comment string) int64 {
	if m := hashAccountRe.FindStringSubmatch(comment); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id
		}
	}
	if m := bareAccountRe.FindStringSubmatch(comment); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id
		}
	}
	return 0
}
