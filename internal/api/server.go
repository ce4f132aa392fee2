// Package api exposes the cached account data and reconciliation results
// over HTTP. Every read is served from memory; no handler ever reaches
// the terminal connection, so a slow or dead terminal cannot stall the
// API.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fund-terminal-bridge/internal/cache"
	"fund-terminal-bridge/internal/database"
	"fund-terminal-bridge/internal/events"
	"fund-terminal-bridge/internal/reconcile"
	"fund-terminal-bridge/internal/registry"
	"fund-terminal-bridge/internal/scheduler"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	StaleAfter     time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	registry   *registry.Registry
	snapshots  *cache.AccountCache
	ledgers    *cache.LedgerCache
	reconciler *reconcile.Reconciler
	scheduler  *scheduler.Scheduler
	repo       *database.Repository // nil when persistence is disabled
	hub        *WSHub

	// sweepLimiter guards the manual refresh endpoint: each trigger
	// drives the single terminal connection through a full sweep.
	sweepLimiter *RateLimiter
}

// NewServer creates a new API server. repo and bus may be nil.
func NewServer(
	config ServerConfig,
	reg *registry.Registry,
	snapshots *cache.AccountCache,
	ledgers *cache.LedgerCache,
	reconciler *reconcile.Reconciler,
	sched *scheduler.Scheduler,
	repo *database.Repository,
	bus *events.Bus,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:       router,
		config:       config,
		registry:     reg,
		snapshots:    snapshots,
		ledgers:      ledgers,
		reconciler:   reconciler,
		scheduler:    sched,
		repo:         repo,
		hub:          NewWSHub(),
		sweepLimiter: NewRateLimiter(2, time.Minute),
	}

	server.setupRoutes()
	go server.hub.Run()
	if bus != nil {
		server.hub.BridgeEvents(bus)
	}

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		// Account endpoints
		api.GET("/accounts", s.handleGetAccounts)
		api.GET("/accounts/:id/snapshot", s.handleGetSnapshot)
		api.GET("/accounts/:id/ledger", s.handleGetLedger)
		api.GET("/accounts/:id/history", s.handleGetSnapshotHistory)

		// Reconciliation endpoints
		api.GET("/pnl/accounts/:id", s.handleGetAccountPnL)
		api.GET("/pnl/funds/:label", s.handleGetFundPnL)
		api.GET("/pnl/portfolio", s.handleGetPortfolioPnL)
		api.GET("/pnl/funds/:label/history", s.handleGetPnLHistory)

		// Sweep endpoints
		api.GET("/sweeps/last", s.handleGetLastSweep)
		api.GET("/sweeps/history", s.handleGetSweepHistory)
		api.POST("/sweep", s.handleTriggerSweep)
	}

	// WebSocket endpoint for live sweep and reconciliation events
	s.router.GET("/ws", s.handleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports bridge health: cache freshness and, when wired,
// database reachability. Always returns quickly.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fresh, stale, never := s.snapshots.Counts(s.registry.IDs(), s.config.StaleAfter)

	dbHealthy := true
	if s.repo != nil {
		if err := s.repo.HealthCheck(ctx); err != nil {
			dbHealthy = false
		}
	}

	status := "healthy"
	if never == s.registry.Size() {
		status = "starting"
	} else if !dbHealthy || stale+never > 0 {
		status = "degraded"
	}

	resp := gin.H{
		"status":            status,
		"accounts_fresh":    fresh,
		"accounts_stale":    stale,
		"accounts_never":    never,
		"scheduler_running": s.scheduler.IsRunning(),
		"ws_clients":        s.hub.ClientCount(),
		"timestamp":         time.Now().UTC(),
	}
	if s.repo != nil {
		resp["database_healthy"] = dbHealthy
	}

	// A sweep aborted on terminal unavailability overrides everything:
	// the caches may look fresh, but nothing behind them can refresh.
	if last, ok := s.scheduler.LastSweep(); ok && last.Aborted {
		resp["status"] = "bridge unavailable"
		resp["bridge_error"] = last.AbortReason
	}

	// last_sweep_at is the last sweep that ran to completion, not the
	// finish time of an aborted attempt.
	if good, ok := s.scheduler.LastSuccessfulSweep(); ok {
		resp["last_sweep_at"] = good.FinishedAt
	}

	c.JSON(http.StatusOK, resp)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// ParseOrigins splits a comma-separated origin list.
func ParseOrigins(raw string) []string {
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
