// Package scheduler drives the periodic refresh sweep over the terminal
// connection. The terminal exposes one account at a time, so the sweep is
// strictly sequential: login, capture the snapshot and ledger history,
// move on. The scheduler is the only component that ever talks to the
// terminal session.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fund-terminal-bridge/internal/cache"
	"fund-terminal-bridge/internal/credentials"
	"fund-terminal-bridge/internal/events"
	"fund-terminal-bridge/internal/registry"
	"fund-terminal-bridge/internal/terminal"
)

// Config holds sweep timing knobs.
type Config struct {
	// Interval is how often a full sweep runs.
	Interval time.Duration

	// StepTimeout bounds each per-account login + fetch sequence.
	StepTimeout time.Duration

	// LedgerLookback is how far back ledger history is pulled.
	LedgerLookback time.Duration

	// RestorePrevious re-logs into the account that was active before
	// the sweep started. Best effort.
	RestorePrevious bool
}

// DefaultConfig returns sweep defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        15 * time.Minute,
		StepTimeout:     45 * time.Second,
		LedgerLookback:  terminal.DefaultLedgerLookback,
		RestorePrevious: true,
	}
}

// SweepResult records the outcome of one full sweep.
type SweepResult struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Refreshed   []int64          `json:"refreshed"`
	Failed      map[int64]string `json:"failed,omitempty"`
	Skipped     []int64          `json:"skipped,omitempty"`
	Aborted     bool             `json:"aborted,omitempty"`
	AbortReason string           `json:"abort_reason,omitempty"`
}

// Duration returns the sweep's wall-clock time.
func (r SweepResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SnapshotSink receives sweep output for durable storage. Writes are best
// effort; a failing sink never fails the sweep.
type SnapshotSink interface {
	SaveSweep(ctx context.Context, result SweepResult) error
	SaveSnapshot(ctx context.Context, sweepID string, snap terminal.AccountSnapshot) error
}

// Scheduler owns the terminal session and runs the refresh loop.
type Scheduler struct {
	session   terminal.Session
	registry  *registry.Registry
	creds     credentials.Store
	snapshots *cache.AccountCache
	ledgers   *cache.LedgerCache
	mirror    *cache.RedisMirror // optional
	sink      SnapshotSink       // optional
	bus       *events.Bus        // optional
	config    Config
	log       zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// sweepMu serializes sweeps: the ticker and a manual trigger must
	// never drive the single terminal connection at the same time.
	sweepMu sync.Mutex

	lastMu      sync.RWMutex
	lastSweep   *SweepResult
	lastSuccess *SweepResult
}

// New creates a scheduler. mirror, sink, and bus may be nil.
func New(session terminal.Session, reg *registry.Registry, creds credentials.Store, snapshots *cache.AccountCache, ledgers *cache.LedgerCache, mirror *cache.RedisMirror, sink SnapshotSink, bus *events.Bus, config Config, log zerolog.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultConfig().StepTimeout
	}
	if config.LedgerLookback <= 0 {
		config.LedgerLookback = terminal.DefaultLedgerLookback
	}

	return &Scheduler{
		session:   session,
		registry:  reg,
		creds:     creds,
		snapshots: snapshots,
		ledgers:   ledgers,
		mirror:    mirror,
		sink:      sink,
		bus:       bus,
		config:    config,
		log:       log,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("refresh scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{}) // reinitialize for restart capability
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.config.Interval).Msg("starting refresh scheduler")

	s.wg.Add(1)
	go s.runLoop()

	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("refresh scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	s.log.Info().Msg("refresh scheduler stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastSweep returns the most recent sweep result, if any.
func (s *Scheduler) LastSweep() (SweepResult, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.lastSweep == nil {
		return SweepResult{}, false
	}
	return *s.lastSweep, true
}

// LastSuccessfulSweep returns the most recent sweep that ran to completion
// without aborting. An aborted sweep never advances this; health reporting
// needs the timestamp of the last cycle that actually refreshed the caches.
func (s *Scheduler) LastSuccessfulSweep() (SweepResult, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.lastSuccess == nil {
		return SweepResult{}, false
	}
	return *s.lastSuccess, true
}

// TriggerSweep runs a sweep outside the ticker cadence, for the manual
// refresh endpoint. Blocks until the sweep finishes.
func (s *Scheduler) TriggerSweep(ctx context.Context) SweepResult {
	return s.Sweep(ctx)
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Populate caches right away rather than waiting a full interval.
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// Sweep visits every registered account in registry order. Account-scoped
// failures are recorded and the sweep moves on; a terminal-unavailable
// failure aborts the sweep since no later account could succeed either.
func (s *Scheduler) Sweep(ctx context.Context) SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	accounts := s.registry.All()
	result := SweepResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Failed:    make(map[int64]string),
	}

	log := s.log.With().Str("sweep_id", result.ID).Logger()
	log.Info().Int("accounts", len(accounts)).Msg("sweep started")
	if s.bus != nil {
		s.bus.PublishSweepStarted(result.ID, len(accounts))
	}

	previous := s.session.CurrentAccount()

	for i, acct := range accounts {
		select {
		case <-ctx.Done():
			s.abort(&result, accounts[i:], ctx.Err().Error(), log)
			return s.finish(result, log)
		default:
		}

		err := s.refreshAccount(ctx, result.ID, acct)
		if err == nil {
			result.Refreshed = append(result.Refreshed, acct.ID)
			continue
		}

		if errors.Is(err, terminal.ErrUnavailable) {
			s.abort(&result, accounts[i:], err.Error(), log)
			return s.finish(result, log)
		}

		// Account-scoped failure: record it and keep sweeping. The
		// cache keeps serving this account's last good snapshot.
		result.Failed[acct.ID] = err.Error()
		s.snapshots.MarkFailed(acct.ID, err.Error())
		log.Warn().Err(err).
			Int64("account", acct.ID).
			Bool("account_scoped", terminal.IsAccountScoped(err)).
			Msg("account refresh failed")
		if s.bus != nil {
			s.bus.PublishAccountRefreshFailed(result.ID, acct.ID, err.Error())
		}
	}

	if s.config.RestorePrevious && previous != 0 && previous != s.session.CurrentAccount() {
		s.restoreLogin(ctx, previous, log)
	}

	return s.finish(result, log)
}

// refreshAccount performs the full per-account step: resolve credentials,
// log in, capture the snapshot, pull ledger history.
func (s *Scheduler) refreshAccount(ctx context.Context, sweepID string, acct registry.Account) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.config.StepTimeout)
	defer cancel()

	creds, err := s.creds.Resolve(stepCtx, acct.ID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	if err := s.session.Login(stepCtx, acct.ID, creds); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	snap, err := s.session.FetchSnapshot(stepCtx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	s.snapshots.Put(snap)

	entries, err := s.session.FetchLedger(stepCtx, time.Now().Add(-s.config.LedgerLookback))
	if err != nil {
		return fmt.Errorf("fetch ledger: %w", err)
	}
	s.ledgers.Put(acct.ID, entries)

	if s.mirror != nil {
		s.mirror.StoreSnapshot(stepCtx, snap, s.config.Interval*2)
	}
	if s.sink != nil {
		if err := s.sink.SaveSnapshot(stepCtx, sweepID, snap); err != nil {
			s.log.Warn().Err(err).Int64("account", acct.ID).Msg("snapshot persistence failed")
			if s.bus != nil {
				s.bus.PublishError("scheduler", "snapshot persistence failed", err)
			}
		}
	}
	if s.bus != nil {
		s.bus.PublishAccountRefreshed(sweepID, acct.ID, snap.Balance, snap.Equity, snap.FloatingProfit)
	}

	return nil
}

func (s *Scheduler) abort(result *SweepResult, remaining []registry.Account, reason string, log zerolog.Logger) {
	result.Aborted = true
	result.AbortReason = reason
	for _, acct := range remaining {
		if _, failed := result.Failed[acct.ID]; failed {
			continue
		}
		if contains(result.Refreshed, acct.ID) {
			continue
		}
		result.Skipped = append(result.Skipped, acct.ID)
	}

	log.Error().Str("reason", reason).Int("skipped", len(result.Skipped)).Msg("sweep aborted")
	if s.bus != nil {
		s.bus.PublishSweepAborted(result.ID, reason)
	}
}

func (s *Scheduler) restoreLogin(ctx context.Context, accountID int64, log zerolog.Logger) {
	stepCtx, cancel := context.WithTimeout(ctx, s.config.StepTimeout)
	defer cancel()

	creds, err := s.creds.Resolve(stepCtx, accountID)
	if err == nil {
		err = s.session.Login(stepCtx, accountID, creds)
	}
	if err != nil {
		log.Debug().Err(err).Int64("account", accountID).Msg("could not restore previous login")
	}
}

func (s *Scheduler) finish(result SweepResult, log zerolog.Logger) SweepResult {
	result.FinishedAt = time.Now()

	s.lastMu.Lock()
	s.lastSweep = &result
	if !result.Aborted {
		s.lastSuccess = &result
	}
	s.lastMu.Unlock()

	if s.sink != nil {
		sinkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.sink.SaveSweep(sinkCtx, result); err != nil {
			log.Warn().Err(err).Msg("sweep persistence failed")
			if s.bus != nil {
				s.bus.PublishError("scheduler", "sweep persistence failed", err)
			}
		}
		cancel()
	}

	log.Info().
		Int("refreshed", len(result.Refreshed)).
		Int("failed", len(result.Failed)).
		Int("skipped", len(result.Skipped)).
		Dur("duration", result.Duration()).
		Msg("sweep finished")
	if s.bus != nil && !result.Aborted {
		s.bus.PublishSweepCompleted(result.ID, len(result.Refreshed), len(result.Failed), result.Duration())
	}

	return result
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
