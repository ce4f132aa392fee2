// Package cache holds the in-memory state shared between the refresh
// scheduler (single writer) and everything that reads account data. Reads
// never block on a sweep in progress: a Get returns the last committed
// snapshot or an explicit not-found, and snapshot replacement is atomic
// under the lock so no reader sees a torn value.
package cache

import (
	"sync"
	"time"

	"fund-terminal-bridge/internal/terminal"
)

// accountEntry is the cached state for one account.
type accountEntry struct {
	snapshot    terminal.AccountSnapshot
	populated   bool
	lastError   string
	lastAttempt time.Time
}

// AccountCache maps account id to the most recent snapshot plus staleness
// metadata. Single writer, many readers.
type AccountCache struct {
	mu      sync.RWMutex
	entries map[int64]*accountEntry

	statsMu   sync.Mutex
	hitCount  int64
	missCount int64
}

// NewAccountCache creates an empty cache.
func NewAccountCache() *AccountCache {
	return &AccountCache{entries: make(map[int64]*accountEntry)}
}

// Put commits a freshly fetched snapshot, superseding the previous one.
func (c *AccountCache) Put(snap terminal.AccountSnapshot) {
	snap.Status = terminal.StatusOK

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[snap.AccountID]
	if e == nil {
		e = &accountEntry{}
		c.entries[snap.AccountID] = e
	}
	e.snapshot = snap
	e.populated = true
	e.lastError = ""
	e.lastAttempt = snap.CapturedAt
}

// MarkFailed records a refresh failure. An already-populated entry keeps
// its last good snapshot and is tagged as error; a never-populated account
// just records the failure reason.
func (c *AccountCache) MarkFailed(accountID int64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[accountID]
	if e == nil {
		e = &accountEntry{}
		c.entries[accountID] = e
	}
	if e.populated {
		e.snapshot.Status = terminal.StatusError
	}
	e.lastError = reason
	e.lastAttempt = time.Now()
}

// Get returns the most recently committed snapshot for the account.
// found is false while the account has never been successfully refreshed.
func (c *AccountCache) Get(accountID int64) (terminal.AccountSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[accountID]
	if !ok || !e.populated {
		c.recordMiss()
		return terminal.AccountSnapshot{}, false
	}
	c.recordHit()
	return e.snapshot, true
}

func (c *AccountCache) recordHit() {
	c.statsMu.Lock()
	c.hitCount++
	c.statsMu.Unlock()
}

func (c *AccountCache) recordMiss() {
	c.statsMu.Lock()
	c.missCount++
	c.statsMu.Unlock()
}

// LastError returns the most recent refresh failure reason, if any.
func (c *AccountCache) LastError(accountID int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[accountID]; ok {
		return e.lastError
	}
	return ""
}

// Staleness returns now minus the snapshot's capture time. ok is false if
// the account has never been populated.
func (c *AccountCache) Staleness(accountID int64) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, found := c.entries[accountID]
	if !found || !e.populated {
		return 0, false
	}
	return time.Since(e.snapshot.CapturedAt), true
}

// StatusFor derives the read-side status tag for an account given the
// configured staleness threshold.
func (c *AccountCache) StatusFor(accountID int64, staleAfter time.Duration) terminal.SnapshotStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, found := c.entries[accountID]
	if !found || !e.populated {
		return terminal.StatusNeverPopulated
	}
	if e.snapshot.Status == terminal.StatusError {
		return terminal.StatusError
	}
	if time.Since(e.snapshot.CapturedAt) > staleAfter {
		return terminal.StatusStale
	}
	return terminal.StatusOK
}

// Counts tallies the accounts in each status bucket, for the health
// endpoint.
func (c *AccountCache) Counts(accountIDs []int64, staleAfter time.Duration) (fresh, stale, never int) {
	for _, id := range accountIDs {
		switch c.StatusFor(id, staleAfter) {
		case terminal.StatusOK:
			fresh++
		case terminal.StatusNeverPopulated:
			never++
		default:
			stale++
		}
	}
	return fresh, stale, never
}

// Stats returns cache hit/miss counters.
func (c *AccountCache) Stats() (hits, misses int64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.hitCount, c.missCount
}
