package terminal

import (
	"context"
	"sync"
	"time"
)

// MockAccount is one simulated account inside the mock terminal.
type MockAccount struct {
	Password string
	Server   string
	Snapshot AccountSnapshot
	Ledger   []LedgerEntry
}

// MockSession simulates the terminal for development and tests. It honors
// the one-login-at-a-time contract and supports scripted failures so
// sweep-isolation behavior can be exercised without a real terminal.
type MockSession struct {
	mu          sync.Mutex
	accounts    map[int64]*MockAccount
	current     int64
	unavailable bool
	latency     time.Duration

	// LoginOrder records every successful login, in order.
	LoginOrder []int64
}

var _ Session = (*MockSession)(nil)

// NewMockSession creates an empty mock terminal.
func NewMockSession() *MockSession {
	return &MockSession{accounts: make(map[int64]*MockAccount)}
}

// AddAccount registers a simulated account.
func (m *MockSession) AddAccount(id int64, acct MockAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := acct
	copied.Snapshot.AccountID = id
	m.accounts[id] = &copied
}

// SetUnavailable toggles whole-terminal unavailability.
func (m *MockSession) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// SetLatency adds a fixed delay to every call, for timeout tests.
func (m *MockSession) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

func (m *MockSession) wait(ctx context.Context) error {
	m.mu.Lock()
	d := m.latency
	m.mu.Unlock()
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return ErrTimeout
		}
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Login authenticates the given account, implicitly logging out the
// previous one.
func (m *MockSession) Login(ctx context.Context, accountID int64, creds Credentials) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return ErrUnavailable
	}

	acct, ok := m.accounts[accountID]
	if !ok || acct.Password != creds.Password {
		m.current = 0
		return ErrAuth
	}

	m.current = accountID
	m.LoginOrder = append(m.LoginOrder, accountID)
	return nil
}

// FetchSnapshot returns the snapshot of the currently logged-in account.
func (m *MockSession) FetchSnapshot(ctx context.Context) (AccountSnapshot, error) {
	if err := m.wait(ctx); err != nil {
		return AccountSnapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return AccountSnapshot{}, ErrUnavailable
	}
	if m.current == 0 {
		return AccountSnapshot{}, ErrNoLogin
	}

	snap := m.accounts[m.current].Snapshot
	snap.CapturedAt = time.Now()
	snap.Status = StatusOK
	return snap, nil
}

// FetchLedger returns ledger entries since the given time for the
// currently logged-in account.
func (m *MockSession) FetchLedger(ctx context.Context, since time.Time) ([]LedgerEntry, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return nil, ErrUnavailable
	}
	if m.current == 0 {
		return nil, ErrNoLogin
	}

	var out []LedgerEntry
	for _, e := range m.accounts[m.current].Ledger {
		if e.Time.Before(since) {
			continue
		}
		e.AccountID = m.current
		out = append(out, e)
	}
	return out, nil
}

// CurrentAccount returns the logged-in account id, or 0.
func (m *MockSession) CurrentAccount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close logs out.
func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = 0
	return nil
}
