package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiocast/internal/core/services"
	"audiocast/internal/infrastructure/monitoring"
	"audiocast/internal/infrastructure/repositories"
	pushsignal "audiocast/internal/infrastructure/signal"
	"audiocast/pkg/config"
	"audiocast/pkg/logger"
	"audiocast/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Resolve(os.Getenv("AUDIOCAST_CONFIG"))
	if err != nil {
		cfg = config.DefaultConfig()
	}

	log := logger.Must(cfg.Logging.Level)
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "audiocast-signal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	if !repoFactory.UsingRedis() {
		log.Warn("push server is running on memory repositories and will not see console changes")
	}

	collector := monitoring.NewPrometheusCollector(nil)
	tokenService := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, repoFactory.CreateCredentialRepository())

	opts := pushsignal.DefaultOptions()
	opts.PingInterval = cfg.Signal.PingInterval
	opts.PongTimeout = cfg.Signal.PongTimeout
	opts.AllowedOrigins = cfg.Auth.AllowedOrigins
	if cfg.RateLimiting.Enabled {
		opts.ConnectionsPerMinute = cfg.RateLimiting.WebSocket.ConnectionsPerMinute
		opts.MaxConnections = cfg.RateLimiting.WebSocket.MaxConcurrent
		opts.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	opts.Watch = services.WatchOptions{
		InitialDelay: cfg.Session.InitialValidationDelay,
		Interval:     cfg.Session.ValidationInterval,
	}
	opts.Registry = services.SessionRegistryConfig{
		IPResolveTimeout:       cfg.Session.IPResolveTimeout,
		MaxConsecutiveFailures: cfg.Session.MaxConsecutiveFailures,
	}

	server := pushsignal.NewPushServer(
		tokenService,
		repoFactory.CreatePermissionRepository(),
		repoFactory.CreateSessionRepository(),
		opts,
		collector,
		log,
	)

	health := monitoring.NewHealthChecker()
	health.AddStoreCheck(repoFactory.HealthCheck, 30*time.Second, 2*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWebSocket)
	mux.HandleFunc("/health", server.HealthCheck)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !health.IsReady(r.Context()) {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting push server", "address", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	server.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("push server stopped")
}
