// reconcile-report prints a true-P&L breakdown from a terminal fixture
// file, for verifying ledger classification and reconciliation math
// without running the bridge.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"fund-terminal-bridge/internal/cache"
	"fund-terminal-bridge/internal/ledger"
	"fund-terminal-bridge/internal/reconcile"
	"fund-terminal-bridge/internal/registry"
	"fund-terminal-bridge/internal/terminal"
)

func main() {
	registryPath := flag.String("registry", "accounts.json", "Path to the account registry file")
	fixturePath := flag.String("fixture", "", "Path to the terminal fixture file (required)")
	fund := flag.String("fund", "", "Reconcile a single fund label instead of the whole portfolio")
	tolerance := flag.Float64("tolerance", 100.0, "Verification tolerance against the aggregation account balance")
	showEntries := flag.Bool("entries", false, "Print every classified ledger entry")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Println("❌ -fixture is required")
		flag.Usage()
		os.Exit(1)
	}

	reg, err := registry.Load(*registryPath)
	if err != nil {
		fmt.Printf("❌ Failed to load registry: %v\n", err)
		os.Exit(1)
	}

	// Fill the caches straight from the fixture, the way a sweep would.
	snapshots := cache.NewAccountCache()
	ledgers := cache.NewLedgerCache(0)
	if err := loadFixtureIntoCaches(*fixturePath, snapshots, ledgers); err != nil {
		fmt.Printf("❌ Failed to stage fixture data: %v\n", err)
		os.Exit(1)
	}

	classifier := ledger.NewClassifier(reg)
	reconciler := reconcile.NewReconciler(reg, classifier, snapshots, ledgers, *tolerance, nil)

	var result reconcile.AggregatePnL
	if *fund != "" {
		result, err = reconciler.Fund(*fund)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	} else {
		result = reconciler.Portfolio()
	}

	printReport(result)

	if *showEntries {
		printEntries(reg, classifier, ledgers)
	}

	if result.NeedsReview {
		os.Exit(2)
	}
}

func printReport(result reconcile.AggregatePnL) {
	line := strings.Repeat("=", 80)

	fmt.Println(line)
	fmt.Printf("📊 TRUE P&L RECONCILIATION: %s\n", result.Label)
	fmt.Println(line)

	fmt.Printf("%-12s %14s %14s %14s %8s\n", "ACCOUNT", "DISPLAYED", "NET WITHDRAWN", "TRUE P&L", "REVIEW")
	fmt.Println(strings.Repeat("-", 80))
	for _, a := range result.Accounts {
		review := ""
		if a.NeedsReview {
			review = fmt.Sprintf("⚠️ %d", a.UnknownCount)
		}
		fmt.Printf("%-12d %14.2f %14.2f %14.2f %8s\n",
			a.AccountID, a.DisplayedPnL, a.NetProfitWithdrawals, a.TruePnL, review)
	}
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-12s %14.2f %14.2f %14.2f\n", "TOTAL", result.DisplayedPnL, result.NetProfitWithdrawals, result.TruePnL)

	for _, ex := range result.Excluded {
		fmt.Printf("⚠️  Account %d excluded: %s\n", ex.AccountID, ex.Reason)
	}

	fmt.Println()
	fmt.Printf("Aggregation account %d balance: %.2f\n", result.AggregationAccountID, result.AggregationBalance)
	if result.AggregationMissing {
		fmt.Println("⚠️  Aggregation account snapshot missing, verification skipped")
	} else {
		fmt.Printf("Verification delta: %.2f (tolerance %.2f)\n", result.VerificationDelta, result.VerificationTolerance)
		if abs(result.VerificationDelta) > result.VerificationTolerance {
			fmt.Println("❌ VERIFICATION MISMATCH")
		} else {
			fmt.Println("✅ Verification within tolerance")
		}
	}
}

func printEntries(reg *registry.Registry, classifier *ledger.Classifier, ledgers *cache.LedgerCache) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("📒 CLASSIFIED LEDGER ENTRIES")
	fmt.Println(strings.Repeat("=", 80))

	for _, acct := range reg.Trading() {
		entries, ok := ledgers.Entries(acct.ID)
		if !ok || len(entries) == 0 {
			continue
		}
		fmt.Printf("\nAccount %d:\n", acct.ID)
		for _, c := range classifier.ClassifyAll(entries) {
			counterpart := ""
			if c.Counterpart != 0 {
				counterpart = fmt.Sprintf(" ↔ %d", c.Counterpart)
			}
			fmt.Printf("  #%-10d %10.2f  %-26s%s\n", c.Ticket, c.Amount, c.Category, counterpart)
		}
	}
}

func loadFixtureIntoCaches(path string, snapshots *cache.AccountCache, ledgers *cache.LedgerCache) error {
	accounts, err := terminal.ReadFixtureAccounts(path)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		snapshots.Put(a.Snapshot)
		ledgers.Put(a.Snapshot.AccountID, a.Ledger)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
