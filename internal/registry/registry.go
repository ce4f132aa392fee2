// Package registry holds the closed set of managed brokerage accounts.
// The registry is static configuration loaded at startup: each account is
// tagged with a role and a fund label, and exactly one account is the
// aggregation account that profit withdrawals flow into.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Role tags what an account is used for.
type Role string

const (
	RoleTrading     Role = "trading"
	RoleAggregation Role = "aggregation"
)

// Account is one managed account entry.
type Account struct {
	ID   int64  `json:"id"`
	Role Role   `json:"role"`
	Fund string `json:"fund"`
}

// Registry is the validated, ordered account set. The order of the source
// file is the sweep order, so monitoring can reason about when a given
// account was last refreshed.
type Registry struct {
	accounts    []Account
	byID        map[int64]Account
	aggregation Account
}

// Load reads and validates a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading registry file: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("error parsing registry file: %w", err)
	}

	return New(accounts)
}

// New builds a registry from an account list, validating roles and the
// single-aggregation-account requirement.
func New(accounts []Account) (*Registry, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("registry is empty")
	}

	r := &Registry{byID: make(map[int64]Account, len(accounts))}
	aggregations := 0

	for _, a := range accounts {
		if a.ID <= 0 {
			return nil, fmt.Errorf("invalid account id %d", a.ID)
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate account id %d", a.ID)
		}
		switch a.Role {
		case RoleTrading:
		case RoleAggregation:
			aggregations++
			r.aggregation = a
		default:
			return nil, fmt.Errorf("account %d has unknown role %q", a.ID, a.Role)
		}
		r.byID[a.ID] = a
		r.accounts = append(r.accounts, a)
	}

	if aggregations != 1 {
		return nil, fmt.Errorf("registry must designate exactly one aggregation account, found %d", aggregations)
	}

	return r, nil
}

// All returns every account in sweep order.
func (r *Registry) All() []Account {
	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// Trading returns the trading accounts in sweep order.
func (r *Registry) Trading() []Account {
	var out []Account
	for _, a := range r.accounts {
		if a.Role == RoleTrading {
			out = append(out, a)
		}
	}
	return out
}

// TradingByFund returns the trading accounts carrying the given fund label.
func (r *Registry) TradingByFund(fund string) []Account {
	var out []Account
	for _, a := range r.accounts {
		if a.Role == RoleTrading && a.Fund == fund {
			out = append(out, a)
		}
	}
	return out
}

// Funds returns the distinct fund labels of trading accounts, in first-seen
// order.
func (r *Registry) Funds() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.accounts {
		if a.Role != RoleTrading || a.Fund == "" || seen[a.Fund] {
			continue
		}
		seen[a.Fund] = true
		out = append(out, a.Fund)
	}
	return out
}

// Aggregation returns the designated aggregation account.
func (r *Registry) Aggregation() Account {
	return r.aggregation
}

// Get looks up an account by id.
func (r *Registry) Get(id int64) (Account, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// IDs returns every account id in sweep order.
func (r *Registry) IDs() []int64 {
	out := make([]int64, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a.ID)
	}
	return out
}

// Contains reports whether the id is a managed account.
func (r *Registry) Contains(id int64) bool {
	_, ok := r.byID[id]
	return ok
}

// Size returns the number of managed accounts.
func (r *Registry) Size() int {
	return len(r.accounts)
}
