package terminal

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FixtureAccount is one account in a mock fixture file.
type FixtureAccount struct {
	ID       int64           `json:"id"`
	Password string          `json:"password"`
	Server   string          `json:"server"`
	Snapshot AccountSnapshot `json:"snapshot"`
	Ledger   []LedgerEntry   `json:"ledger"`
}

// ReadFixtureAccounts parses a fixture file. Fixture snapshots without a
// capture time are stamped at load.
func ReadFixtureAccounts(path string) ([]FixtureAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading fixture file: %w", err)
	}

	var accounts []FixtureAccount
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("error parsing fixture file: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("fixture file %s has no accounts", path)
	}

	for i := range accounts {
		a := &accounts[i]
		if a.ID <= 0 {
			return nil, fmt.Errorf("fixture account has invalid id %d", a.ID)
		}
		a.Snapshot.AccountID = a.ID
		if a.Snapshot.CapturedAt.IsZero() {
			a.Snapshot.CapturedAt = time.Now()
		}
		for j := range a.Ledger {
			a.Ledger[j].AccountID = a.ID
		}
	}

	return accounts, nil
}

// LoadFixture builds a mock terminal from a fixture file, returning the
// session and the credentials its accounts expect.
func LoadFixture(path string) (*MockSession, map[int64]Credentials, error) {
	accounts, err := ReadFixtureAccounts(path)
	if err != nil {
		return nil, nil, err
	}

	session := NewMockSession()
	creds := make(map[int64]Credentials, len(accounts))

	for _, a := range accounts {
		session.AddAccount(a.ID, MockAccount{
			Password: a.Password,
			Server:   a.Server,
			Snapshot: a.Snapshot,
			Ledger:   a.Ledger,
		})
		creds[a.ID] = Credentials{Password: a.Password, Server: a.Server}
	}

	return session, creds, nil
}
