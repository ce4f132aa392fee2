package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	TerminalConfig  TerminalConfig  `json:"terminal"`
	RegistryConfig  RegistryConfig  `json:"registry"`
	SchedulerConfig SchedulerConfig `json:"scheduler"`
	CacheConfig     CacheConfig     `json:"cache"`
	ReconcileConfig ReconcileConfig `json:"reconcile"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	VaultConfig     VaultConfig     `json:"vault"`
	ServerConfig    ServerConfig    `json:"server"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// TerminalConfig holds settings for the trading-terminal connection.
type TerminalConfig struct {
	MockMode       bool          `json:"mock_mode"`       // Use the simulated terminal when the real library is unavailable
	FixturePath    string        `json:"fixture_path"`    // Fixture file for mock mode
	LedgerLookback time.Duration `json:"ledger_lookback"` // History window for FetchLedger
}

// RegistryConfig locates the managed-account registry file.
type RegistryConfig struct {
	Path string `json:"path"`
}

// SchedulerConfig holds refresh-sweep settings.
type SchedulerConfig struct {
	Interval        time.Duration `json:"interval"`         // Time between sweeps
	StepTimeout     time.Duration `json:"step_timeout"`     // Deadline for one account's login+fetch
	RestorePrevious bool          `json:"restore_previous"` // Log the pre-sweep account back in after a sweep
}

// CacheConfig holds read-side cache settings.
type CacheConfig struct {
	StaleAfter time.Duration `json:"stale_after"` // Snapshot age after which an account is flagged degraded
}

// ReconcileConfig holds true-P&L reconciliation settings.
type ReconcileConfig struct {
	// VerificationTolerance is the allowed delta between summed net profit
	// withdrawals and the aggregation account's balance. Empirically chosen;
	// broker-side interest accrual makes small deltas normal.
	VerificationTolerance float64 `json:"verification_tolerance"`
}

// DatabaseConfig holds PostgreSQL settings for the audit sink.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis settings for the snapshot mirror.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault settings for the credential store.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`

	// Sealed-file fallback used when Vault is disabled.
	SealedFile    string `json:"sealed_file"`
	PassphraseEnv string `json:"passphrase_env"`
}

// ServerConfig holds bridge API server settings.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	ProductionMode  bool   `json:"production_mode"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output (console writer otherwise)
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// No terminal credentials are ever read from the environment; secrets live
// in Vault or the sealed file and are resolved per login.
func applyEnvOverrides(cfg *Config) {
	cfg.TerminalConfig.MockMode = getEnvOrDefault("TERMINAL_MOCK_MODE", "false") == "true"
	cfg.TerminalConfig.FixturePath = getEnvOrDefault("TERMINAL_FIXTURE_PATH", cfg.TerminalConfig.FixturePath)
	cfg.TerminalConfig.LedgerLookback = getEnvDurationOrDefault("TERMINAL_LEDGER_LOOKBACK", 90*24*time.Hour)

	cfg.RegistryConfig.Path = getEnvOrDefault("REGISTRY_PATH", defaultString(cfg.RegistryConfig.Path, "accounts.json"))

	cfg.SchedulerConfig.Interval = getEnvDurationOrDefault("SCHEDULER_INTERVAL", 15*time.Minute)
	cfg.SchedulerConfig.StepTimeout = getEnvDurationOrDefault("SCHEDULER_STEP_TIMEOUT", 45*time.Second)
	cfg.SchedulerConfig.RestorePrevious = getEnvOrDefault("SCHEDULER_RESTORE_PREVIOUS", "true") == "true"

	cfg.CacheConfig.StaleAfter = getEnvDurationOrDefault("CACHE_STALE_AFTER", 5*time.Minute)

	cfg.ReconcileConfig.VerificationTolerance = getEnvFloatOrDefault("RECONCILE_VERIFICATION_TOLERANCE", 100.0)

	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", "false") == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "fundbridge"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "fund-bridge/terminal-logins"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)
	cfg.VaultConfig.SealedFile = getEnvOrDefault("CREDENTIALS_SEALED_FILE", defaultString(cfg.VaultConfig.SealedFile, "credentials.sealed"))
	cfg.VaultConfig.PassphraseEnv = getEnvOrDefault("CREDENTIALS_PASSPHRASE_ENV", defaultString(cfg.VaultConfig.PassphraseEnv, "CREDENTIALS_PASSPHRASE"))

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", "false") == "true"
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
