package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"fund-terminal-bridge/config"
	"fund-terminal-bridge/internal/terminal"

	"github.com/redis/go-redis/v9"
)

// RedisMirror publishes committed snapshots into Redis so sibling web
// processes can read them without touching this process. The in-memory
// AccountCache stays the source of truth; mirror failures degrade silently
// and never fail a sweep.
type RedisMirror struct {
	client *redis.Client
	config config.RedisConfig

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

const snapshotKeyFmt = "account:%d:snapshot"

// NewRedisMirror connects to Redis. A failed initial connection returns
// the mirror in degraded mode rather than an error.
func NewRedisMirror(cfg config.RedisConfig) (*RedisMirror, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	m := &RedisMirror{
		client:        client,
		config:        cfg,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[MIRROR] Initial Redis connection failed: %v", err)
		return m, nil
	}

	m.healthy = true
	m.lastCheck = time.Now()
	log.Printf("[MIRROR] Redis connected at %s", cfg.Address)
	return m, nil
}

// IsHealthy reports whether Redis is currently usable.
func (m *RedisMirror) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy
}

func (m *RedisMirror) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failureCount++
	if m.failureCount >= m.maxFailures {
		if m.healthy {
			log.Printf("[MIRROR] Redis marked unhealthy after %d failures", m.failureCount)
		}
		m.healthy = false
	}
}

func (m *RedisMirror) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.healthy {
		log.Printf("[MIRROR] Redis recovered")
	}
	m.healthy = true
	m.failureCount = 0
	m.lastCheck = time.Now()
}

// maybeRecover pings Redis in the background once the check interval has
// passed, so the mirror comes back without operator action.
func (m *RedisMirror) maybeRecover() {
	m.mu.RLock()
	shouldCheck := !m.healthy && time.Since(m.lastCheck) >= m.checkInterval
	m.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.client.Ping(ctx).Err(); err == nil {
			m.recordSuccess()
		} else {
			m.mu.Lock()
			m.lastCheck = time.Now()
			m.mu.Unlock()
		}
	}()
}

// StoreSnapshot mirrors one snapshot with the given TTL.
func (m *RedisMirror) StoreSnapshot(ctx context.Context, snap terminal.AccountSnapshot, ttl time.Duration) error {
	m.maybeRecover()
	if !m.IsHealthy() {
		return fmt.Errorf("redis mirror unavailable")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := fmt.Sprintf(snapshotKeyFmt, snap.AccountID)
	if err := m.client.Set(ctx, key, data, ttl).Err(); err != nil {
		m.recordFailure()
		return fmt.Errorf("failed to mirror snapshot: %w", err)
	}

	m.recordSuccess()
	return nil
}

// GetSnapshot reads a mirrored snapshot back, mostly for verification in
// tooling; in-process readers should use AccountCache.
func (m *RedisMirror) GetSnapshot(ctx context.Context, accountID int64) (terminal.AccountSnapshot, error) {
	var snap terminal.AccountSnapshot

	if !m.IsHealthy() {
		return snap, fmt.Errorf("redis mirror unavailable")
	}

	key := fmt.Sprintf(snapshotKeyFmt, accountID)
	data, err := m.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			m.recordFailure()
		}
		return snap, fmt.Errorf("failed to read mirrored snapshot: %w", err)
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	m.recordSuccess()
	return snap, nil
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
