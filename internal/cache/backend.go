// Package cache stores events, thread snapshots and relay lists in a byte-level
// backend (in-memory or Redis) behind small typed stores.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// CacheBackend defines the interface for cache implementations
type CacheBackend interface {
	// Get returns (value, found, error). Expired entries are not found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// GetMultiple returns only the keys that were found.
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)

	SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	Close() error
}

// Backend type names reported by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Open returns a Redis backend when redisURL is set and reachable, otherwise
// an in-memory one. The second value names the backend that was chosen.
func Open(redisURL string, logger *slog.Logger) (CacheBackend, string) {
	if logger == nil {
		logger = slog.Default()
	}
	if redisURL != "" {
		logger.Info("initializing Redis cache")
		rc, err := NewRedisCache(redisURL, "threads:")
		if err == nil {
			logger.Info("Redis cache initialized")
			return rc, BackendRedis
		}
		logger.Warn("Redis connection failed, using memory cache", "error", err)
	}
	logger.Info("initializing in-memory cache")
	return NewMemoryCache(50000, 2*time.Minute), BackendMemory
}
