package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nostr-threads/internal/cache"
	"nostr-threads/internal/config"
	"nostr-threads/internal/metrics"
	"nostr-threads/internal/relay"
	"nostr-threads/internal/thread"
)

const shutdownTimeout = 10 * time.Second

// server holds the process-wide collaborators behind the HTTP handlers.
type server struct {
	engine       *thread.Engine
	cfg          *config.EngineConfig
	cacheBackend string
	connections  func() int
}

// newServer wires the engine onto a transport and cache backend.
func newServer(cfg *config.EngineConfig, transport relay.Transport, backend cache.CacheBackend, backendType string, logger *slog.Logger) (*server, error) {
	cacheCfg := cache.CacheConfigFromEnv()
	discovery := relay.NewDiscovery(transport, cache.NewRelayListStore(backend, cacheCfg), relay.DiscoveryConfig{
		Indexers:        cfg.Relays.Indexer,
		RelaysPerAuthor: cfg.RelaysPerAuthor,
	}, logger)

	engine, err := thread.NewEngine(thread.Deps{
		Transport: transport,
		Events:    cache.NewEventStore(backend, cacheCfg),
		Threads:   cache.NewThreadStore(backend, cacheCfg),
		Discovery: discovery,
		Config:    cfg,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return &server{engine: engine, cfg: cfg, cacheBackend: backendType}, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /thread/{ref}", securityHeaders(s.threadHandler))
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	return RequestLoggingMiddleware(mux)
}

// securityHeaders wraps an HTTP handler to add security headers
func securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Exports are self-contained: inline styles and data: QR images only.
		w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src data:; style-src 'unsafe-inline'")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next(w, r)
	}
}

func main() {
	InitLogger()
	logger := slog.Default()

	cfg := config.Get()

	backend, backendType := cache.Open(os.Getenv("REDIS_URL"), logger)
	defer backend.Close()
	metrics.BuildInfo.WithLabelValues(backendType, runtime.Version()).Set(1)

	pool := relay.NewPool(
		relay.WithQueryTimeout(cfg.QueryTimeout.Std()),
		relay.WithLogger(logger),
	)
	defer pool.Close()

	srv, err := newServer(cfg, pool, backend, backendType, logger)
	if err != nil {
		slog.Error("failed to build thread engine", "error", err)
		os.Exit(1)
	}
	srv.connections = pool.ActiveConnections

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "port", port, "cache_backend", backendType)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}
