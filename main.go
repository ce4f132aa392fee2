package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fund-terminal-bridge/config"
	"fund-terminal-bridge/internal/api"
	"fund-terminal-bridge/internal/cache"
	"fund-terminal-bridge/internal/credentials"
	"fund-terminal-bridge/internal/database"
	"fund-terminal-bridge/internal/events"
	"fund-terminal-bridge/internal/ledger"
	"fund-terminal-bridge/internal/logging"
	"fund-terminal-bridge/internal/reconcile"
	"fund-terminal-bridge/internal/registry"
	"fund-terminal-bridge/internal/scheduler"
	"fund-terminal-bridge/internal/terminal"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Msg("Structured logging initialized")

	// Load the managed-account registry
	reg, err := registry.Load(cfg.RegistryConfig.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RegistryConfig.Path).Msg("Failed to load account registry")
	}
	logger.Info().
		Int("accounts", reg.Size()).
		Int64("aggregation", reg.Aggregation().ID).
		Strs("funds", reg.Funds()).
		Msg("Account registry loaded")

	// Terminal session and credential store
	session, fixtureCreds, err := buildSession(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize terminal session")
	}
	defer session.Close()

	credStore, err := buildCredentialStore(cfg, fixtureCreds)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize credential store")
	}

	// In-memory read caches
	snapshots := cache.NewAccountCache()
	ledgers := cache.NewLedgerCache(cfg.TerminalConfig.LedgerLookback)

	// Optional Redis snapshot mirror
	var mirror *cache.RedisMirror
	if cfg.RedisConfig.Enabled {
		mirror, err = cache.NewRedisMirror(cfg.RedisConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis mirror unavailable, continuing without it")
			mirror = nil
		} else {
			defer mirror.Close()
		}
	}

	// Optional PostgreSQL audit sink
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.RunMigrations(migrateCtx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("Failed to run database migrations")
		}
		cancel()

		repo = database.NewRepository(db)
	}

	// Event bus for sweep and reconciliation events. Verification
	// mismatches get a WARN line in addition to the event stream.
	bus := events.NewBus()
	bus.Subscribe(events.EventVerificationMismatch, func(ev events.Event) {
		logger.Warn().
			Interface("label", ev.Data["label"]).
			Interface("delta", ev.Data["delta"]).
			Interface("tolerance", ev.Data["tolerance"]).
			Msg("Reconciliation verification mismatch")
	})

	// Reconciliation engine
	classifier := ledger.NewClassifier(reg)
	reconciler := reconcile.NewReconciler(reg, classifier, snapshots, ledgers, cfg.ReconcileConfig.VerificationTolerance, bus)

	// Refresh scheduler owns the terminal session
	var sink scheduler.SnapshotSink
	if repo != nil {
		sink = repo
	}
	sched := scheduler.New(
		session, reg, credStore, snapshots, ledgers, mirror, sink, bus,
		scheduler.Config{
			Interval:        cfg.SchedulerConfig.Interval,
			StepTimeout:     cfg.SchedulerConfig.StepTimeout,
			LedgerLookback:  cfg.TerminalConfig.LedgerLookback,
			RestorePrevious: cfg.SchedulerConfig.RestorePrevious,
		},
		logging.Component(logger, "scheduler"),
	)
	if err := sched.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start refresh scheduler")
	}

	// HTTP API
	server := api.NewServer(
		api.ServerConfig{
			Port:           cfg.ServerConfig.Port,
			Host:           cfg.ServerConfig.Host,
			ProductionMode: cfg.ServerConfig.ProductionMode,
			AllowedOrigins: api.ParseOrigins(cfg.ServerConfig.AllowedOrigins),
			StaleAfter:     cfg.CacheConfig.StaleAfter,
		},
		reg, snapshots, ledgers, reconciler, sched, repo, bus,
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	logger.Info().Int("port", cfg.ServerConfig.Port).Msg("Bridge started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down web server")
	}
	if err := sched.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping refresh scheduler")
	}

	logger.Info().Msg("Shutdown complete")
}

// buildSession selects the terminal driver. The native driver ships
// separately with the terminal installation; this build runs against the
// mock terminal.
func buildSession(cfg *config.Config) (terminal.Session, map[int64]terminal.Credentials, error) {
	if !cfg.TerminalConfig.MockMode {
		return nil, nil, fmt.Errorf("native terminal driver is not bundled in this build, set TERMINAL_MOCK_MODE=true")
	}

	if cfg.TerminalConfig.FixturePath != "" {
		return loadFixtureSession(cfg.TerminalConfig.FixturePath)
	}
	return terminal.NewMockSession(), nil, nil
}

func loadFixtureSession(path string) (terminal.Session, map[int64]terminal.Credentials, error) {
	session, creds, err := terminal.LoadFixture(path)
	if err != nil {
		return nil, nil, err
	}
	return session, creds, nil
}

// buildCredentialStore selects the credential backend: Vault when
// enabled, a sealed local file when present, fixture credentials as the
// development fallback.
func buildCredentialStore(cfg *config.Config, fixtureCreds map[int64]terminal.Credentials) (credentials.Store, error) {
	if cfg.VaultConfig.Enabled {
		store, err := credentials.NewVaultStore(cfg.VaultConfig)
		if err != nil {
			return nil, err
		}
		healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Health(healthCtx); err != nil {
			// Vault may be sealed or mid-restart; credentials are
			// resolved per login, so start anyway.
			log.Printf("Vault health check failed, continuing: %v", err)
		}
		return store, nil
	}

	if cfg.VaultConfig.SealedFile != "" {
		if _, err := os.Stat(cfg.VaultConfig.SealedFile); err == nil {
			passphrase := os.Getenv(cfg.VaultConfig.PassphraseEnv)
			if passphrase == "" {
				return nil, fmt.Errorf("sealed credential file %s requires %s to be set", cfg.VaultConfig.SealedFile, cfg.VaultConfig.PassphraseEnv)
			}
			return credentials.NewFileStore(cfg.VaultConfig.SealedFile, passphrase)
		}
	}

	if fixtureCreds != nil {
		store := credentials.NewMockStore()
		for id, c := range fixtureCreds {
			store.Set(id, c)
		}
		return store, nil
	}

	return nil, fmt.Errorf("no credential backend available: enable Vault, provide a sealed file, or run with a fixture")
}
