package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fund-terminal-bridge/internal/cache"
	"fund-terminal-bridge/internal/credentials"
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

func mockAccount(id int64, balance float64) terminal.MockAccount {
	return terminal.MockAccount{
		Password: "pw",
		Server:   "demo",
		Snapshot: terminal.AccountSnapshot{
			AccountID: id,
			Balance:   balance,
			Equity:    balance,
			Currency:  "USD",
		},
		Ledger: []terminal.LedgerEntry{
			{Ticket: id, Time: time.Now().Add(-time.Hour), Amount: -100, Comment: "Transfer to #886528"},
		},
	}
}

func testFixtures(t *testing.T) (*terminal.MockSession, credentials.Store, *registry.Registry) {
	t.Helper()
	reg := testRegistry(t)
	session := terminal.NewMockSession()
	creds := credentials.NewMockStore()
	for _, acct := range reg.All() {
		session.AddAccount(acct.ID, mockAccount(acct.ID, float64(acct.ID)))
		creds.Set(acct.ID, terminal.Credentials{Password: "pw", Server: "demo"})
	}
	return session, creds, reg
}

func newTestScheduler(session terminal.Session, reg *registry.Registry, creds credentials.Store) (*Scheduler, *cache.AccountCache, *cache.LedgerCache) {
	snapshots := cache.NewAccountCache()
	ledgers := cache.NewLedgerCache(0)
	s := New(session, reg, creds, snapshots, ledgers, nil, nil, nil, Config{
		Interval:    time.Hour,
		StepTimeout: time.Second,
	}, zerolog.Nop())
	return s, snapshots, ledgers
}

// ============================================================================
// SWEEP
// ============================================================================

// A plain sweep refreshes every account in registry order and fills both
// caches.
func TestSweepRefreshesAllAccounts(t *testing.T) {
	session, creds, reg := testFixtures(t)
	s, snapshots, ledgers := newTestScheduler(session, reg, creds)

	result := s.Sweep(context.Background())

	if len(result.Refreshed) != 4 {
		t.Fatalf("Expected 4 refreshed accounts, got %d", len(result.Refreshed))
	}
	if result.Aborted || len(result.Failed) != 0 {
		t.Errorf("Unexpected failure state: %+v", result)
	}

	expectedOrder := []int64{886602, 886557, 886066, 886528}
	for i, id := range expectedOrder {
		if session.LoginOrder[i] != id {
			t.Errorf("Sweep order position %d: expected %d, got %d", i, id, session.LoginOrder[i])
		}
		if _, found := snapshots.Get(id); !found {
			t.Errorf("Snapshot missing for account %d", id)
		}
		if _, found := ledgers.Entries(id); !found {
			t.Errorf("Ledger missing for account %d", id)
		}
	}

	if _, ok := s.LastSweep(); !ok {
		t.Error("Expected LastSweep to be recorded")
	}
}

// One account with bad credentials fails alone; the sweep continues and
// every other account still refreshes.
func TestSweepIsolatesAccountFailure(t *testing.T) {
	session, _, reg := testFixtures(t)

	creds := credentials.NewMockStore()
	for _, acct := range reg.All() {
		pw := "pw"
		if acct.ID == 886557 {
			pw = "wrong"
		}
		creds.Set(acct.ID, terminal.Credentials{Password: pw, Server: "demo"})
	}

	s, snapshots, _ := newTestScheduler(session, reg, creds)
	result := s.Sweep(context.Background())

	if len(result.Refreshed) != 3 {
		t.Fatalf("Expected 3 refreshed accounts, got %d", len(result.Refreshed))
	}
	if _, failed := result.Failed[886557]; !failed {
		t.Fatalf("Expected account 886557 in failures, got %+v", result.Failed)
	}
	if result.Aborted {
		t.Error("Account-scoped failure must not abort the sweep")
	}

	if _, found := snapshots.Get(886557); found {
		t.Error("Failed account must stay unpopulated")
	}
	if _, found := snapshots.Get(886066); !found {
		t.Error("Accounts after the failure must still refresh")
	}
	if snapshots.LastError(886557) == "" {
		t.Error("Failure reason must be recorded in the cache")
	}
}

// Terminal-wide unavailability aborts the sweep: no later account could
// succeed, so they are marked skipped rather than individually failed.
func TestSweepAbortsWhenTerminalUnavailable(t *testing.T) {
	session, creds, reg := testFixtures(t)
	session.SetUnavailable(true)

	s, _, _ := newTestScheduler(session, reg, creds)
	result := s.Sweep(context.Background())

	if !result.Aborted {
		t.Fatal("Expected aborted sweep")
	}
	if len(result.Refreshed) != 0 {
		t.Errorf("Expected no refreshed accounts, got %v", result.Refreshed)
	}
	if len(result.Skipped) != 4 {
		t.Errorf("Expected all 4 accounts skipped, got %v", result.Skipped)
	}
}

// A mid-sweep outage keeps the accounts already refreshed and skips the
// rest.
func TestSweepKeepsEarlierResultsOnAbort(t *testing.T) {
	session, creds, reg := testFixtures(t)
	s, snapshots, _ := newTestScheduler(session, reg, creds)

	// First sweep populates everything.
	s.Sweep(context.Background())

	session.SetUnavailable(true)
	result := s.Sweep(context.Background())

	if !result.Aborted {
		t.Fatal("Expected aborted sweep")
	}
	if _, found := snapshots.Get(886602); !found {
		t.Error("Previously cached snapshots must survive an aborted sweep")
	}
}

// Missing credentials are an account-scoped failure, not an abort.
func TestSweepMissingCredentials(t *testing.T) {
	session, _, reg := testFixtures(t)

	creds := credentials.NewMockStore()
	for _, acct := range reg.All() {
		if acct.ID == 886066 {
			continue
		}
		creds.Set(acct.ID, terminal.Credentials{Password: "pw", Server: "demo"})
	}

	s, _, _ := newTestScheduler(session, reg, creds)
	result := s.Sweep(context.Background())

	if _, failed := result.Failed[886066]; !failed {
		t.Fatalf("Expected credential failure for 886066, got %+v", result.Failed)
	}
	if len(result.Refreshed) != 3 {
		t.Errorf("Expected 3 refreshed accounts, got %d", len(result.Refreshed))
	}
}

// A slow terminal call runs into the per-step timeout without stalling
// the remaining accounts beyond their own steps.
func TestSweepStepTimeout(t *testing.T) {
	session, creds, reg := testFixtures(t)
	session.SetLatency(50 * time.Millisecond)

	snapshots := cache.NewAccountCache()
	ledgers := cache.NewLedgerCache(0)
	s := New(session, reg, creds, snapshots, ledgers, nil, nil, nil, Config{
		Interval:    time.Hour,
		StepTimeout: 10 * time.Millisecond,
	}, zerolog.Nop())

	result := s.Sweep(context.Background())

	if len(result.Failed) != 4 {
		t.Fatalf("Expected every account to time out, got %+v", result)
	}
	if result.Aborted {
		t.Error("Timeouts are account-scoped and must not abort the sweep")
	}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestSchedulerStartStop(t *testing.T) {
	session, creds, reg := testFixtures(t)
	s, snapshots, _ := newTestScheduler(session, reg, creds)

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("Second Start must fail while running")
	}

	// The initial sweep runs immediately on start.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, found := snapshots.Get(886602); found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Initial sweep did not populate the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(); err == nil {
		t.Error("Second Stop must fail when not running")
	}
	if s.IsRunning() {
		t.Error("Scheduler still reports running after Stop")
	}
}

func TestTriggerSweepRecordsResult(t *testing.T) {
	session, creds, reg := testFixtures(t)
	s, _, _ := newTestScheduler(session, reg, creds)

	result := s.TriggerSweep(context.Background())
	if len(result.Refreshed) != 4 {
		t.Fatalf("Expected 4 refreshed accounts, got %d", len(result.Refreshed))
	}

	last, ok := s.LastSweep()
	if !ok || last.ID != result.ID {
		t.Errorf("LastSweep mismatch: %+v vs %+v", last, result)
	}
}

// An aborted sweep must not advance the last-successful marker; health
// reporting uses it for the timestamp of the last completed cycle.
func TestLastSuccessfulSweepSkipsAborted(t *testing.T) {
	session, creds, reg := testFixtures(t)
	s, _, _ := newTestScheduler(session, reg, creds)

	if _, ok := s.LastSuccessfulSweep(); ok {
		t.Fatal("Expected no successful sweep before the first run")
	}

	good := s.Sweep(context.Background())
	if good.Aborted {
		t.Fatalf("Expected first sweep to complete, got abort: %s", good.AbortReason)
	}

	session.SetUnavailable(true)
	aborted := s.Sweep(context.Background())
	if !aborted.Aborted {
		t.Fatal("Expected aborted sweep")
	}

	last, ok := s.LastSweep()
	if !ok || last.ID != aborted.ID {
		t.Errorf("LastSweep should report the aborted sweep, got %+v", last)
	}
	success, ok := s.LastSuccessfulSweep()
	if !ok || success.ID != good.ID {
		t.Errorf("LastSuccessfulSweep should stay at %s, got %+v", good.ID, success)
	}
}
