package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testMock() *MockSession {
	m := NewMockSession()
	m.AddAccount(886602, MockAccount{
		Password: "pw",
		Server:   "demo",
		Snapshot: AccountSnapshot{Balance: 1000, Equity: 1100, FloatingProfit: 100, Currency: "USD"},
		Ledger: []LedgerEntry{
			{Ticket: 1, Time: time.Now().Add(-48 * time.Hour), Amount: -100, Comment: "Transfer to #886528"},
			{Ticket: 2, Time: time.Now().Add(-1 * time.Hour), Amount: -200, Comment: "Transfer to #886528"},
		},
	})
	m.AddAccount(886557, MockAccount{Password: "pw2", Snapshot: AccountSnapshot{Balance: 2000}})
	return m
}

func TestLoginSwitchesAccount(t *testing.T) {
	m := testMock()
	ctx := context.Background()

	if m.CurrentAccount() != 0 {
		t.Fatal("Expected no login initially")
	}

	if err := m.Login(ctx, 886602, Credentials{Password: "pw"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if m.CurrentAccount() != 886602 {
		t.Errorf("Expected current account 886602, got %d", m.CurrentAccount())
	}

	// Logging into another account displaces the first.
	if err := m.Login(ctx, 886557, Credentials{Password: "pw2"}); err != nil {
		t.Fatalf("Second login failed: %v", err)
	}
	if m.CurrentAccount() != 886557 {
		t.Errorf("Expected current account 886557, got %d", m.CurrentAccount())
	}

	snap, err := m.FetchSnapshot(ctx)
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if snap.AccountID != 886557 {
		t.Errorf("Snapshot belongs to %d, expected 886557", snap.AccountID)
	}
}

func TestLoginBadPassword(t *testing.T) {
	m := testMock()

	err := m.Login(context.Background(), 886602, Credentials{Password: "nope"})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Expected ErrAuth, got %v", err)
	}
	if m.CurrentAccount() != 0 {
		t.Error("Failed login must clear the current account")
	}
}

func TestFetchWithoutLogin(t *testing.T) {
	m := testMock()
	ctx := context.Background()

	if _, err := m.FetchSnapshot(ctx); !errors.Is(err, ErrNoLogin) {
		t.Errorf("Expected ErrNoLogin, got %v", err)
	}
	if _, err := m.FetchLedger(ctx, time.Time{}); !errors.Is(err, ErrNoLogin) {
		t.Errorf("Expected ErrNoLogin, got %v", err)
	}
}

func TestUnavailableTerminal(t *testing.T) {
	m := testMock()
	m.SetUnavailable(true)

	err := m.Login(context.Background(), 886602, Credentials{Password: "pw"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestFetchLedgerHonorsSince(t *testing.T) {
	m := testMock()
	ctx := context.Background()

	if err := m.Login(ctx, 886602, Credentials{Password: "pw"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	entries, err := m.FetchLedger(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("FetchLedger failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Ticket != 2 {
		t.Errorf("Expected only the recent entry, got %+v", entries)
	}
	if entries[0].AccountID != 886602 {
		t.Errorf("Entry not stamped with account id: %d", entries[0].AccountID)
	}
}

func TestLatencyTimeout(t *testing.T) {
	m := testMock()
	m.SetLatency(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.Login(ctx, 886602, Credentials{Password: "pw"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestDirectionFromSign(t *testing.T) {
	out := LedgerEntry{Amount: -50}
	in := LedgerEntry{Amount: 50}

	if out.Direction() != DirectionOut {
		t.Errorf("Expected out, got %s", out.Direction())
	}
	if in.Direction() != DirectionIn {
		t.Errorf("Expected in, got %s", in.Direction())
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	content := `[
		{
			"id": 886602,
			"password": "pw",
			"server": "demo",
			"snapshot": {"balance": 1000, "equity": 1100, "floating_profit": 100, "currency": "USD"},
			"ledger": [
				{"ticket": 1, "time": "2024-03-01T12:00:00Z", "amount": -646.52, "comment": "Transfer to #886528"}
			]
		}
	]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	session, creds, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture failed: %v", err)
	}

	if creds[886602].Password != "pw" {
		t.Errorf("Unexpected fixture credentials: %+v", creds)
	}

	ctx := context.Background()
	if err := session.Login(ctx, 886602, creds[886602]); err != nil {
		t.Fatalf("Login with fixture credentials failed: %v", err)
	}

	snap, err := session.FetchSnapshot(ctx)
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if snap.AccountID != 886602 || snap.Balance != 1000 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if snap.CapturedAt.IsZero() {
		t.Error("Fixture snapshot must get a capture time")
	}

	entries, err := session.FetchLedger(ctx, time.Time{})
	if err != nil {
		t.Fatalf("FetchLedger failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Amount != -646.52 {
		t.Errorf("Unexpected ledger: %+v", entries)
	}
}

func TestIsAccountScoped(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"auth rejection", ErrAuth, true},
		{"timeout", ErrTimeout, true},
		{"no login", ErrNoLogin, true},
		{"wrapped auth", fmt.Errorf("login: %w", ErrAuth), true},
		{"backend unavailable", ErrUnavailable, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAccountScoped(tc.err); got != tc.want {
				t.Errorf("IsAccountScoped(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
