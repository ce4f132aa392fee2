package cache

import (
	"sort"
	"sync"
	"time"

	"fund-terminal-bridge/internal/terminal"
)

// LedgerCache accumulates ledger history per account so reconciliation is
// computed entirely from already-fetched data. Entries are deduped by
// (account, ticket) because ticket numbering is only unique per account.
type LedgerCache struct {
	mu        sync.RWMutex
	retention time.Duration
	entries   map[int64]map[int64]terminal.LedgerEntry // accountID -> ticket -> entry
	fetchedAt map[int64]time.Time
}

// NewLedgerCache creates an empty ledger cache. Entries older than
// retention are evicted on Put; this keeps the reconciliation window the
// same whether the process has been up for an hour or a month. A zero
// retention keeps everything.
func NewLedgerCache(retention time.Duration) *LedgerCache {
	return &LedgerCache{
		retention: retention,
		entries:   make(map[int64]map[int64]terminal.LedgerEntry),
		fetchedAt: make(map[int64]time.Time),
	}
}

// Put merges freshly fetched entries for an account. Re-fetched tickets
// overwrite in place, so replaying a fetch is idempotent.
func (c *LedgerCache) Put(accountID int64, entries []terminal.LedgerEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byTicket := c.entries[accountID]
	if byTicket == nil {
		byTicket = make(map[int64]terminal.LedgerEntry, len(entries))
		c.entries[accountID] = byTicket
	}
	for _, e := range entries {
		e.AccountID = accountID
		byTicket[e.Ticket] = e
	}
	if c.retention > 0 {
		cutoff := time.Now().Add(-c.retention)
		for ticket, e := range byTicket {
			if e.Time.Before(cutoff) {
				delete(byTicket, ticket)
			}
		}
	}
	c.fetchedAt[accountID] = time.Now()
}

// Entries returns the cached history for an account, ordered by time then
// ticket. found is false if no fetch has ever succeeded for the account.
func (c *LedgerCache) Entries(accountID int64) ([]terminal.LedgerEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byTicket, ok := c.entries[accountID]
	if !ok {
		return nil, false
	}

	out := make([]terminal.LedgerEntry, 0, len(byTicket))
	for _, e := range byTicket {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Ticket < out[j].Ticket
	})
	return out, true
}

// FetchedAt returns when the account's ledger was last fetched.
func (c *LedgerCache) FetchedAt(accountID int64) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.fetchedAt[accountID]
	return t, ok
}
