// Package cache provides Redis-based caching for computed waterfall runs.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"equity-waterfall-engine/config"
	"equity-waterfall-engine/internal/waterfall"
)

// Key formats. Keys are derived from the input hash and the day-count basis,
// so identical snapshots computed under the same convention share a cache
// entry and a compute lock.
const (
	keyRunResult   = "waterfall:run:%s:%s"
	keyComputeLock = "waterfall:lock:%s:%s"
)

// lockTTL bounds how long a crashed worker can hold a compute lock.
const lockTTL = 2 * time.Minute

// RunCache caches computed run results keyed by input hash, with graceful
// degradation. When Redis is unavailable, operations return errors that
// callers should handle by computing and hitting the database directly.
type RunCache struct {
	client       *redis.Client
	ttl          time.Duration
	logger       zerolog.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	// Circuit breaker settings
	maxFailures   int
	checkInterval time.Duration
}

// NewRunCache creates a RunCache and verifies Redis connectivity. A failed
// initial connection returns the cache in degraded mode, not an error.
func NewRunCache(cfg config.RedisConfig, logger zerolog.Logger) (*RunCache, error) {
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

	rc := &RunCache{
		client:        client,
		ttl:           cfg.CacheTTL(),
		logger:        logger.With().Str("component", "RunCache").Logger(),
		healthy:       false,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		rc.logger.Warn().Err(err).Msg("Initial Redis connection failed, starting degraded")
		return rc, nil
	}

	rc.healthy = true
	rc.lastCheck = time.Now()
	rc.logger.Info().Str("address", cfg.Address).Msg("Redis connected")

	return rc, nil
}

// IsHealthy returns whether Redis is currently available.
func (rc *RunCache) IsHealthy() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.healthy
}

// GetRunResult returns the cached result for an input hash. A nil result with
// a nil error is a cache miss.
func (rc *RunCache) GetRunResult(ctx context.Context, inputHash, dayCount string) (*waterfall.RunResult, error) {
	rc.checkHealth()

	if !rc.IsHealthy() {
		return nil, fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	data, err := rc.client.Get(ctx, fmt.Sprintf(keyRunResult, dayCount, inputHash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		rc.recordFailure()
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	rc.recordSuccess()

	var result waterfall.RunResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		// A corrupt entry is worse than a miss; drop it.
		rc.client.Del(ctx, fmt.Sprintf(keyRunResult, dayCount, inputHash))
		return nil, fmt.Errorf("corrupt cached run result: %w", err)
	}
	return &result, nil
}

// SetRunResult caches a computed result under its input hash.
func (rc *RunCache) SetRunResult(ctx context.Context, inputHash, dayCount string, result *waterfall.RunResult) error {
	rc.checkHealth()

	if !rc.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode run result: %w", err)
	}

	if err := rc.client.Set(ctx, fmt.Sprintf(keyRunResult, dayCount, inputHash), data, rc.ttl).Err(); err != nil {
		rc.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	rc.recordSuccess()
	return nil
}

// AcquireComputeLock takes the compute lock for an input hash so concurrent
// submissions of the same snapshot compute once. Returns false when another
// worker holds the lock.
func (rc *RunCache) AcquireComputeLock(ctx context.Context, inputHash, dayCount string) (bool, error) {
	rc.checkHealth()

	if !rc.IsHealthy() {
		return false, fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	ok, err := rc.client.SetNX(ctx, fmt.Sprintf(keyComputeLock, dayCount, inputHash), "1", lockTTL).Result()
	if err != nil {
		rc.recordFailure()
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	rc.recordSuccess()
	return ok, nil
}

// ReleaseComputeLock releases the compute lock for an input hash.
func (rc *RunCache) ReleaseComputeLock(ctx context.Context, inputHash, dayCount string) {
	if !rc.IsHealthy() {
		return
	}
	if err := rc.client.Del(ctx, fmt.Sprintf(keyComputeLock, dayCount, inputHash)).Err(); err != nil {
		rc.logger.Warn().Err(err).Msg("Failed to release compute lock")
	}
}

// Close closes the Redis client.
func (rc *RunCache) Close() error {
	return rc.client.Close()
}

// recordFailure tracks a Redis operation failure for the circuit breaker.
func (rc *RunCache) recordFailure() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.failureCount++
	if rc.failureCount >= rc.maxFailures {
		if rc.healthy {
			rc.logger.Warn().Int("failures", rc.failureCount).Msg("Circuit breaker OPEN: Redis marked unhealthy")
		}
		rc.healthy = false
	}
}

// recordSuccess resets the failure counter on successful operation.
func (rc *RunCache) recordSuccess() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.healthy {
		rc.logger.Info().Msg("Circuit breaker CLOSED: Redis recovered")
	}
	rc.healthy = true
	rc.failureCount = 0
	rc.lastCheck = time.Now()
}

// checkHealth performs a background health check if enough time has passed.
func (rc *RunCache) checkHealth() {
	rc.mu.RLock()
	shouldCheck := !rc.healthy && time.Since(rc.lastCheck) >= rc.checkInterval
	rc.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := rc.client.Ping(pingCtx).Err(); err == nil {
			rc.recordSuccess()
		}
	}()
}
