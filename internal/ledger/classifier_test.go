package ledger

import (
	"testing"
	"time"

	"fund-terminal-bridge/internal/registry"
	"fund-terminal-bridge/internal/terminal"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Account{
		{ID: 886602, Role: registry.RoleTrading, Fund: "alpha"},
		{ID: 886557, Role: registry.RoleTrading, Fund: "alpha"},
		{ID: 886066, Role: registry.RoleTrading, Fund: "beta"},
		{ID: 886528, Role: registry.RoleAggregation},
	})
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return reg
}

func entry(ticket int64, amount float64, comment string) terminal.LedgerEntry {
	return terminal.LedgerEntry{
		Ticket:    ticket,
		AccountID: 886602,
		Time:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Amount:    amount,
		Comment:   comment,
	}
}

// ============================================================================
// RULE TABLE
// ============================================================================

func TestClassifyCategories(t *testing.T) {
	classifier := NewClassifier(testRegistry(t))

	testCases := []struct {
		name             string
		amount           float64
		comment          string
		expectedCategory Category
		expectedRule     string
		counterpart      int64
		includeInPnL     bool
		needsReview      bool
	}{
		{
			name:             "outflow to aggregation account is a profit withdrawal",
			amount:           -646.52,
			comment:          "Transfer to #886528",
			expectedCategory: CategoryProfitWithdrawal,
			expectedRule:     "aggregation_outflow",
			counterpart:      886528,
			includeInPnL:     true,
		},
		{
			name:             "inflow from aggregation account is a profit return",
			amount:           250.00,
			comment:          "Transfer from #886528",
			expectedCategory: CategoryProfitReturn,
			expectedRule:     "aggregation_inflow",
			counterpart:      886528,
			includeInPnL:     true,
		},
		{
			name:             "outflow to a managed trading account is a transfer",
			amount:           -10000.00,
			comment:          "Transfer to #886066",
			expectedCategory: CategoryTransferOut,
			expectedRule:     "managed_transfer",
			counterpart:      886066,
		},
		{
			name:             "inflow from a managed trading account is a transfer",
			amount:           10000.00,
			comment:          "Transfer from #886557",
			expectedCategory: CategoryTransferIn,
			expectedRule:     "managed_transfer",
			counterpart:      886557,
		},
		{
			name:             "bare account number without hash still resolves",
			amount:           -75.00,
			comment:          "transfer to 886528 acc",
			expectedCategory: CategoryProfitWithdrawal,
			expectedRule:     "aggregation_outflow",
			counterpart:      886528,
			includeInPnL:     true,
		},
		{
			name:             "transfer to an unmanaged account needs review",
			amount:           -500.00,
			comment:          "Transfer to #999999",
			expectedCategory: CategoryUnknown,
			expectedRule:     "unmanaged_counterpart",
			counterpart:      999999,
			needsReview:      true,
		},
		{
			name:             "deposit without counterpart is external",
			amount:           25000.00,
			comment:          "Deposit",
			expectedCategory: CategoryExternalDeposit,
			expectedRule:     "external_deposit",
		},
		{
			name:             "withdrawal without counterpart is external",
			amount:           -1200.00,
			comment:          "Withdrawal request 4411",
			expectedCategory: CategoryExternalWithdrawal,
			expectedRule:     "external_withdrawal",
			counterpart:      0,
		},
		{
			name:             "unrecognized comment falls through to unknown",
			amount:           -33.00,
			comment:          "balance correction",
			expectedCategory: CategoryUnknown,
			expectedRule:     "fallback_unknown",
			needsReview:      true,
		},
		{
			name:             "empty comment is unknown",
			amount:           100.00,
			comment:          "",
			expectedCategory: CategoryUnknown,
			expectedRule:     "fallback_unknown",
			needsReview:      true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := classifier.Classify(entry(1, tc.amount, tc.comment))

			if c.Category != tc.expectedCategory {
				t.Errorf("Expected category %s, got %s", tc.expectedCategory, c.Category)
			}
			if c.Rule != tc.expectedRule {
				t.Errorf("Expected rule %s, got %s", tc.expectedRule, c.Rule)
			}
			if c.Counterpart != tc.counterpart {
				t.Errorf("Expected counterpart %d, got %d", tc.counterpart, c.Counterpart)
			}
			if c.IncludeInPnL != tc.includeInPnL {
				t.Errorf("Expected IncludeInPnL=%v, got %v", tc.includeInPnL, c.IncludeInPnL)
			}
			if c.NeedsReview != tc.needsReview {
				t.Errorf("Expected NeedsReview=%v, got %v", tc.needsReview, c.NeedsReview)
			}
		})
	}
}

func TestClassifyAmountIsAbsolute(t *testing.T) {
	classifier := NewClassifier(testRegistry(t))

	c := classifier.Classify(entry(7, -646.52, "Transfer to #886528"))
	if c.Amount != 646.52 {
		t.Errorf("Expected absolute amount 646.52, got %f", c.Amount)
	}
	if c.Direction != terminal.DirectionOut {
		t.Errorf("Expected direction out, got %s", c.Direction)
	}

	c = classifier.Classify(entry(8, 646.52, "Transfer from #886528"))
	if c.Amount != 646.52 {
		t.Errorf("Expected absolute amount 646.52, got %f", c.Amount)
	}
	if c.Direction != terminal.DirectionIn {
		t.Errorf("Expected direction in, got %s", c.Direction)
	}
}

// The hash form must win over bare digit runs when both are present.
func TestExtractCounterpartPrefersHashForm(t *testing.T) {
	testCases := []struct {
		comment  string
		expected int64
	}{
		{"Transfer to #886528", 886528},
		{"Transfer to 886528", 886528},
		{"order 12345678 transfer to #886066", 886066},
		{"small number 123 only", 0},
		{"no digits at all", 0},
	}

	for _, tc := range testCases {
		if got := extractCounterpart(tc.comment); got != tc.expected {
			t.Errorf("extractCounterpart(%q) = %d, expected %d", tc.comment, got, tc.expected)
		}
	}
}

func TestClassifyAllPreservesOrder(t *testing.T) {
	classifier := NewClassifier(testRegistry(t))

	entries := []terminal.LedgerEntry{
		entry(1, -684.74, "Transfer to #886528"),
		entry(2, -10000.00, "Transfer to #886066"),
		entry(3, 500.00, "Deposit"),
	}

	out := classifier.ClassifyAll(entries)
	if len(out) != 3 {
		t.Fatalf("Expected 3 classifications, got %d", len(out))
	}
	if out[0].Ticket != 1 || out[1].Ticket != 2 || out[2].Ticket != 3 {
		t.Errorf("Classification order does not match input order: %v", out)
	}
}
