package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flowsync/application/ports"
	"flowsync/application/session"
	"flowsync/infrastructure/cache"
	"flowsync/infrastructure/config"
	"flowsync/infrastructure/observability"
	memstore "flowsync/infrastructure/persistence/memory"
	"flowsync/infrastructure/persistence/sqlite"
	"flowsync/interfaces/http/rest"
	"flowsync/interfaces/ws"
	"flowsync/pkg/auth"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Shared room state: in-memory TTL cache behind a circuit breaker.
	memCache := cache.NewMemoryCache(cache.TTLConfig{
		Snapshot: cfg.SnapshotTTL,
		Roster:   cfg.RosterTTL,
		Pending:  cfg.PendingTTL,
	})
	defer memCache.Close()
	roomCache := cache.NewBreakerCache(memCache, logger)

	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open durable store", zap.Error(err))
	}
	defer closeStore()

	authorizer, authenticator, jwtService := buildAuth(cfg, logger)

	metrics := observability.NewCollector("flowsync")

	hub := ws.NewHub(logger, metrics)
	go hub.Run()
	defer hub.Stop()

	manager := session.NewManager(roomCache, store, authorizer, hub, logger, metrics)

	flusher := cache.NewFlusher(roomCache, store, cfg.FlushInterval, logger, metrics)
	flusherDone := make(chan struct{})
	go func() {
		flusher.Run(ctx)
		close(flusherDone)
	}()

	wsServer := ws.NewServer(hub, manager, authenticator, nil, logger)

	var metricsHandler http.Handler
	if cfg.EnableMetrics {
		metricsHandler = metrics.Handler()
	}
	router := rest.NewRouter(manager, wsServer.HandleWebSocket, metricsHandler, jwtService, cfg.EnableCORS, logger)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Stop the flusher and wait for its final flush of every active room
	// to finish before the process exits.
	cancel()
	<-flusherDone

	log.Println("Server stopped")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zcfg zap.Config
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// buildStore selects the durable backend: SQLite when a path is
// configured, in-memory otherwise (tests and throwaway dev runs).
func buildStore(cfg *config.Config, logger *zap.Logger) (ports.DurableStore, func(), error) {
	if cfg.DatabasePath == "" || cfg.DatabasePath == ":memory:" {
		logger.Warn("Using in-memory store, snapshots will not survive restarts")
		return memstore.NewStore(), func() {}, nil
	}
	s, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("SQLite store opened", zap.String("path", cfg.DatabasePath))
	return s, func() { s.Close() }, nil
}

// buildAuth wires JWT-backed auth in production and permissive stubs in
// development, where tokens are treated as bare user ids.
func buildAuth(cfg *config.Config, logger *zap.Logger) (ports.Authorizer, ws.Authenticator, *auth.JWTService) {
	if cfg.Environment == "production" {
		jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer)
		registry := auth.NewRegistry()
		return registry, auth.NewTokenAuthenticator(jwtService, registry), jwtService
	}
	logger.Warn("Development auth enabled, all principals can edit all rooms")
	return auth.AllowAll{}, auth.DevAuthenticator{}, nil
}
