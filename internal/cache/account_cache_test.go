package cache

import (
	"sync"
	"testing"
	"time"

	"fund-terminal-bridge/internal/terminal"
)

func testSnapshot(accountID int64, capturedAt time.Time) terminal.AccountSnapshot {
	return terminal.AccountSnapshot{
		AccountID:      accountID,
		Balance:        1000,
		Equity:         1100,
		FloatingProfit: 100,
		Currency:       "USD",
		CapturedAt:     capturedAt,
	}
}

func TestAccountCachePutAndGet(t *testing.T) {
	c := NewAccountCache()

	if _, found := c.Get(886602); found {
		t.Fatal("Expected miss on empty cache")
	}

	c.Put(testSnapshot(886602, time.Now()))

	snap, found := c.Get(886602)
	if !found {
		t.Fatal("Expected hit after Put")
	}
	if snap.AccountID != 886602 || snap.Balance != 1000 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if snap.Status != terminal.StatusOK {
		t.Errorf("Expected status ok, got %s", snap.Status)
	}
}

// A failed refresh keeps serving the last good snapshot, tagged as error.
func TestAccountCacheMarkFailedKeepsLastGood(t *testing.T) {
	c := NewAccountCache()

	c.Put(testSnapshot(886602, time.Now()))
	c.MarkFailed(886602, "login: invalid credentials")

	snap, found := c.Get(886602)
	if !found {
		t.Fatal("Last good snapshot must survive a failure")
	}
	if snap.Balance != 1000 {
		t.Errorf("Expected preserved balance 1000, got %f", snap.Balance)
	}
	if c.LastError(886602) != "login: invalid credentials" {
		t.Errorf("Unexpected last error: %q", c.LastError(886602))
	}
	if c.StatusFor(886602, time.Hour) != terminal.StatusError {
		t.Errorf("Expected error status, got %s", c.StatusFor(886602, time.Hour))
	}
}

// A failure on a never-populated account must not fabricate a snapshot.
func TestAccountCacheMarkFailedNeverPopulated(t *testing.T) {
	c := NewAccountCache()

	c.MarkFailed(886602, "resolve credentials: not found")

	if _, found := c.Get(886602); found {
		t.Fatal("Expected miss for never-populated account")
	}
	if c.StatusFor(886602, time.Hour) != terminal.StatusNeverPopulated {
		t.Errorf("Expected never_populated, got %s", c.StatusFor(886602, time.Hour))
	}
	if c.LastError(886602) == "" {
		t.Error("Expected failure reason to be recorded")
	}
}

// A successful refresh clears a previous failure.
func TestAccountCachePutClearsError(t *testing.T) {
	c := NewAccountCache()

	c.Put(testSnapshot(886602, time.Now()))
	c.MarkFailed(886602, "fetch snapshot: timeout")
	c.Put(testSnapshot(886602, time.Now()))

	if c.LastError(886602) != "" {
		t.Errorf("Expected cleared error, got %q", c.LastError(886602))
	}
	if c.StatusFor(886602, time.Hour) != terminal.StatusOK {
		t.Errorf("Expected ok status, got %s", c.StatusFor(886602, time.Hour))
	}
}

func TestAccountCacheStaleness(t *testing.T) {
	c := NewAccountCache()

	if _, ok := c.Staleness(886602); ok {
		t.Fatal("Expected no staleness for unknown account")
	}

	c.Put(testSnapshot(886602, time.Now().Add(-10*time.Minute)))

	age, ok := c.Staleness(886602)
	if !ok {
		t.Fatal("Expected staleness after Put")
	}
	if age < 10*time.Minute || age > 11*time.Minute {
		t.Errorf("Expected ~10m staleness, got %v", age)
	}
	if c.StatusFor(886602, 5*time.Minute) != terminal.StatusStale {
		t.Errorf("Expected stale status, got %s", c.StatusFor(886602, 5*time.Minute))
	}
}

func TestAccountCacheCounts(t *testing.T) {
	c := NewAccountCache()
	ids := []int64{1, 2, 3}

	c.Put(testSnapshot(1, time.Now()))
	c.Put(testSnapshot(2, time.Now().Add(-time.Hour)))

	fresh, stale, never := c.Counts(ids, 5*time.Minute)
	if fresh != 1 || stale != 1 || never != 1 {
		t.Errorf("Expected 1/1/1, got %d/%d/%d", fresh, stale, never)
	}
}

// Readers must never block or race against the writer.
func TestAccountCacheConcurrentAccess(t *testing.T) {
	c := NewAccountCache()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c.Put(testSnapshot(886602, time.Now()))
			c.MarkFailed(886557, "login: timeout")
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Get(886602)
				c.StatusFor(886557, time.Minute)
				c.Staleness(886602)
			}
		}()
	}

	wg.Wait()

	hits, misses := c.Stats()
	if hits+misses == 0 {
		t.Error("Expected stats to be recorded")
	}
}
