package cache

import (
	"log/slog"
	"os"
	"time"
)

// CacheConfig holds the TTL of each store.
type CacheConfig struct {
	// EventTTL only bounds memory: events are immutable.
	EventTTL time.Duration
	// ThreadTTL is how long a thread snapshot feeds merge-of-merges.
	ThreadTTL            time.Duration
	RelayListTTL         time.Duration
	RelayListNotFoundTTL time.Duration
}

// DefaultCacheConfig returns the built-in TTLs.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		EventTTL:             time.Hour,
		ThreadTTL:            3 * time.Minute,
		RelayListTTL:         time.Hour,
		RelayListNotFoundTTL: 5 * time.Minute,
	}
}

// CacheConfigFromEnv applies CACHE_EVENT_TTL, CACHE_THREAD_TTL and
// CACHE_RELAYLIST_TTL (Go durations) over the defaults. Invalid or
// non-positive values are logged and ignored.
func CacheConfigFromEnv() CacheConfig {
	cfg := DefaultCacheConfig()
	for name, field := range map[string]*time.Duration{
		"CACHE_EVENT_TTL":     &cfg.EventTTL,
		"CACHE_THREAD_TTL":    &cfg.ThreadTTL,
		"CACHE_RELAYLIST_TTL": &cfg.RelayListTTL,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			slog.Warn("ignoring invalid cache TTL", "env", name, "value", v)
			continue
		}
		*field = d
	}
	return cfg
}
