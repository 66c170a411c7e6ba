package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/services"
	httphandlers "audiocast/internal/handlers/http"
	"audiocast/internal/infrastructure/backup"
	"audiocast/internal/infrastructure/middleware"
	"audiocast/internal/infrastructure/monitoring"
	"audiocast/internal/infrastructure/repositories"
	"audiocast/internal/infrastructure/sessionhandle"
	pkgbackup "audiocast/pkg/backup"
	"audiocast/pkg/config"
	"audiocast/pkg/logger"
	"audiocast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Resolve(os.Getenv("AUDIOCAST_CONFIG"))
	if err != nil {
		cfg = config.DefaultConfig()
	}

	log := logger.Must(cfg.Logging.Level)
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "audiocast-console",
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

	sessionRepo := repoFactory.CreateSessionRepository()
	permissionRepo := repoFactory.CreatePermissionRepository()
	profileRepo := repoFactory.CreateProfileRepository()
	credentialRepo := repoFactory.CreateCredentialRepository()

	collector := monitoring.NewPrometheusCollector(nil)

	tokenService := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, credentialRepo)
	orchestrator := services.NewAssignmentOrchestrator(permissionRepo, repoFactory.CreateLocker(), log, collector)
	monitoringService := services.NewMonitoringService(sessionRepo, cfg.Monitoring.ActiveWindow, log)

	stopSummary, err := monitoringService.Watch(ctx, func(snapshot *services.MonitoringSnapshot) {
		collector.UpdateSessionSummary(snapshot.Summary.Active, snapshot.Summary.Total, snapshot.Summary.UniqueIPs)
	})
	if err != nil {
		log.Warnw("session summary metrics disabled", "error", err)
	} else {
		defer stopSummary()
	}

	health := monitoring.NewHealthChecker()
	health.AddStoreCheck(repoFactory.HealthCheck, 30*time.Second, 2*time.Second)
	health.AddSessionStoreCheck(sessionRepo, 30*time.Second, 2*time.Second)

	var cookies *sessionhandle.CookieSigner
	if cfg.Auth.SessionCookie != "" {
		cookies = sessionhandle.NewCookieSigner(cfg.Auth.JWTSecret, cfg.Auth.SessionCookie,
			int(cfg.Auth.AccessTokenTTL.Seconds()), cfg.Auth.CookieSecure)
	}

	authHandler := httphandlers.NewAuthHandler(
		credentialRepo,
		profileRepo,
		sessionRepo,
		tokenService,
		httphandlers.AuthHandlerConfig{
			Gateway: services.AuthGatewayConfig{MinPasswordLength: cfg.Provisioning.MinPasswordLength},
			Registry: services.SessionRegistryConfig{
				IPResolveTimeout:       cfg.Session.IPResolveTimeout,
				MaxConsecutiveFailures: cfg.Session.MaxConsecutiveFailures,
			},
			Cookies: cookies,
		},
		collector,
		log,
	)
	adminHandler := httphandlers.NewAdminHandler(profileRepo, permissionRepo, orchestrator, monitoringService, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(log),
		middleware.MetricsMiddleware(collector),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET("/api/v1/ip", httphandlers.IPHandler)
	authHandler.SetupRoutes(router)
	adminOnly := router.Group("",
		middleware.AuthMiddleware(tokenService),
		middleware.RequireRole(domain.RoleAdmin),
	)
	adminHandler.SetupRoutes(adminOnly)

	var scheduler *backup.Scheduler
	if cfg.Backup.Enabled {
		storage, err := pkgbackup.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			log.Fatalw("failed to open backup directory", "directory", cfg.Backup.Directory, "error", err)
		}
		backups := pkgbackup.NewService(storage, "1")
		snapshotter := backup.NewSnapshotter(backups, profileRepo, permissionRepo, orchestrator, log)
		httphandlers.NewBackupHandler(snapshotter, log).SetupRoutes(adminOnly)

		scheduler = backup.NewScheduler(snapshotter, backups, backup.Config{
			Interval:      cfg.Backup.Interval,
			RetentionDays: cfg.Backup.RetentionDays,
		}, log)
		go scheduler.Start(ctx)
		log.Infow("permission backups enabled", "directory", cfg.Backup.Directory, "interval", cfg.Backup.Interval)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"redis":     repoFactory.UsingRedis(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		checkCtx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := health.CheckAll(checkCtx)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting console server", "address", cfg.Server.Address)
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

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("console server stopped")
}
