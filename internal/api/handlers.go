package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fund-terminal-bridge/internal/reconcile"
	"fund-terminal-bridge/internal/terminal"
)

// handleGetAccounts lists every managed account with its cache status.
func (s *Server) handleGetAccounts(c *gin.Context) {
	type accountView struct {
		AccountID int64                   `json:"account_id"`
		Role      string                  `json:"role"`
		Fund      string                  `json:"fund,omitempty"`
		Status    terminal.SnapshotStatus `json:"status"`
		AgeSecs   float64                 `json:"snapshot_age_seconds,omitempty"`
		LastError string                  `json:"last_error,omitempty"`
	}

	var out []accountView
	for _, acct := range s.registry.All() {
		view := accountView{
			AccountID: acct.ID,
			Role:      string(acct.Role),
			Fund:      acct.Fund,
			Status:    s.snapshots.StatusFor(acct.ID, s.config.StaleAfter),
			LastError: s.snapshots.LastError(acct.ID),
		}
		if age, ok := s.snapshots.Staleness(acct.ID); ok {
			view.AgeSecs = age.Seconds()
		}
		out = append(out, view)
	}

	successResponse(c, out)
}

// handleGetSnapshot returns the cached snapshot for one account. An
// account that has never been refreshed yields 404 with its status, not
// an empty snapshot: zeroed balances read like real numbers.
func (s *Server) handleGetSnapshot(c *gin.Context) {
	accountID, ok := s.accountParam(c)
	if !ok {
		return
	}

	snap, found := s.snapshots.Get(accountID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":      true,
			"message":    "account has not been refreshed yet",
			"account_id": accountID,
			"status":     terminal.StatusNeverPopulated,
		})
		return
	}

	snap.Status = s.snapshots.StatusFor(accountID, s.config.StaleAfter)
	resp := gin.H{"snapshot": snap}
	if age, ok := s.snapshots.Staleness(accountID); ok {
		resp["age_seconds"] = age.Seconds()
	}
	if lastErr := s.snapshots.LastError(accountID); lastErr != "" {
		resp["last_error"] = lastErr
	}
	successResponse(c, resp)
}

// handleGetLedger returns the cached ledger history for one account,
// oldest first.
func (s *Server) handleGetLedger(c *gin.Context) {
	accountID, ok := s.accountParam(c)
	if !ok {
		return
	}

	entries, found := s.ledgers.Entries(accountID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":      true,
			"message":    "ledger has not been fetched yet",
			"account_id": accountID,
		})
		return
	}

	resp := gin.H{"account_id": accountID, "entries": entries, "count": len(entries)}
	if fetchedAt, ok := s.ledgers.FetchedAt(accountID); ok {
		resp["fetched_at"] = fetchedAt
	}
	successResponse(c, resp)
}

// handleGetSnapshotHistory returns persisted snapshots for one account.
func (s *Server) handleGetSnapshotHistory(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusNotImplemented, "Snapshot persistence is not enabled")
		return
	}

	accountID, ok := s.accountParam(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	records, err := s.repo.SnapshotHistory(ctx, accountID, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch snapshot history")
		return
	}
	successResponse(c, records)
}

// handleGetAccountPnL returns the reconciled P&L for one trading account.
func (s *Server) handleGetAccountPnL(c *gin.Context) {
	accountID, ok := s.accountParam(c)
	if !ok {
		return
	}

	pnl, err := s.reconciler.AccountByID(accountID)
	if err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	successResponse(c, pnl)
}

// handleGetFundPnL returns the reconciled P&L for a fund label.
func (s *Server) handleGetFundPnL(c *gin.Context) {
	label := c.Param("label")

	pnl, err := s.reconciler.Fund(label)
	if err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}

	s.persistPnL(pnl)
	successResponse(c, pnl)
}

// handleGetPortfolioPnL returns the reconciled P&L across every trading
// account.
func (s *Server) handleGetPortfolioPnL(c *gin.Context) {
	pnl := s.reconciler.Portfolio()
	s.persistPnL(pnl)
	successResponse(c, pnl)
}

// handleGetPnLHistory returns persisted reconciliation results for a label.
func (s *Server) handleGetPnLHistory(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusNotImplemented, "Reconciliation persistence is not enabled")
		return
	}

	label := c.Param("label")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	records, err := s.repo.PnLHistory(ctx, label, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch reconciliation history")
		return
	}
	successResponse(c, records)
}

// handleGetLastSweep returns the outcome of the most recent sweep.
func (s *Server) handleGetLastSweep(c *gin.Context) {
	result, ok := s.scheduler.LastSweep()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   true,
			"message": "no sweep has completed yet",
		})
		return
	}
	successResponse(c, result)
}

// handleGetSweepHistory returns persisted sweep outcomes.
func (s *Server) handleGetSweepHistory(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusNotImplemented, "Sweep persistence is not enabled")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	records, err := s.repo.SweepHistory(ctx, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch sweep history")
		return
	}
	successResponse(c, records)
}

// handleTriggerSweep starts a sweep outside the ticker cadence. The sweep
// runs in the background; each one walks every account over the single
// terminal connection, so triggers are rate limited.
func (s *Server) handleTriggerSweep(c *gin.Context) {
	if !s.sweepLimiter.Allow("manual-sweep") {
		errorResponse(c, http.StatusTooManyRequests, "Sweep already triggered recently")
		return
	}

	go s.scheduler.TriggerSweep(context.Background())

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Sweep started",
	})
}

// accountParam parses and validates the :id path parameter.
func (s *Server) accountParam(c *gin.Context) (int64, bool) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || accountID <= 0 {
		errorResponse(c, http.StatusBadRequest, "Invalid account ID")
		return 0, false
	}
	if !s.registry.Contains(accountID) {
		errorResponse(c, http.StatusNotFound, "Account is not in the registry")
		return 0, false
	}
	return accountID, true
}

// persistPnL records a reconciliation result, best effort. A failing
// database never fails the read.
func (s *Server) persistPnL(pnl reconcile.AggregatePnL) {
	if s.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.SavePnLResult(ctx, pnl); err != nil {
			log.Printf("Failed to persist reconciliation result for %s: %v", pnl.Label, err)
		}
	}()
}
