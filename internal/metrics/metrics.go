// Package metrics holds the Prometheus collectors shared by the relay transport,
// caches and thread engine. Collectors register on the default registry and are
// served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics
var (
	RelayQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostr_relay_queries_total",
		Help: "Relay queries by outcome (ok, partial, failed)",
	}, []string{"relay", "outcome"})

	RelayQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nostr_relay_query_duration_seconds",
		Help:    "Time from REQ to EOSE or timeout for a single relay",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	})

	RelayConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nostr_relay_connections_active",
		Help: "Number of open relay websocket connections",
	})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nostr_events_dropped_total",
		Help: "Events dropped due to full subscription channels",
	})

	MalformedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nostr_events_malformed_total",
		Help: "Events rejected by shape or signature validation",
	})
)

// Thread engine metrics
var (
	PagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thread_pages_fetched_total",
		Help: "Paginated frontier queries issued",
	})

	LevelsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thread_levels_fetched_total",
		Help: "Breadth-first levels expanded",
	})

	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thread_escalation_stage_total",
		Help: "Escalation stages entered",
	}, []string{"stage"})

	ReconstructionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thread_reconstructions_total",
		Help: "Thread reconstructions by outcome (ok, not_found, degraded, superseded)",
	}, []string{"outcome"})

	PositionalFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thread_positional_fallback_total",
		Help: "Parents decided by the positional reference-tag fallback",
	})
)

// Cache metrics
var (
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Cache lookups by cache name and result (hit, miss)",
	}, []string{"cache", "result"})
)

// CacheHit records a hit for the named cache.
func CacheHit(cache string) {
	CacheRequestsTotal.WithLabelValues(cache, "hit").Inc()
}

// CacheMiss records a miss for the named cache.
func CacheMiss(cache string) {
	CacheRequestsTotal.WithLabelValues(cache, "miss").Inc()
}

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status class",
	}, []string{"route", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "thread_build_info",
		Help: "Build and configuration information",
	}, []string{"cache_backend", "go_version"})
)

// StatusClass buckets an HTTP status code as 2xx, 3xx, 4xx or 5xx.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
