package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/hospital-scheduling-admin/internal/api/router"
	"github.com/wolfman30/hospital-scheduling-admin/internal/app/bootstrap"
	appconfig "github.com/wolfman30/hospital-scheduling-admin/internal/config"
	"github.com/wolfman30/hospital-scheduling-admin/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/hospital-scheduling-admin/internal/http/middleware"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/jobclient"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/watch"
	"github.com/wolfman30/hospital-scheduling-admin/internal/observability/metrics"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting hospital-scheduling-admin API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"backend", cfg.BackendBaseURL,
		"strategy", cfg.JobWatchStrategy,
	)

	ctx := context.Background()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	pool := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	stores := bootstrap.BuildStores(cfg, redisClient, pool)

	metricsHandler, watchMetrics, backendMetrics := setupMetrics()

	app, err := buildApp(cfg, stores, watchMetrics, backendMetrics, logger)
	if err != nil {
		logger.Error("failed to build api", "error", err)
		os.Exit(1)
	}
	app.routerCfg.MetricsHandler = metricsHandler

	// Create HTTP server. WriteTimeout stays unset: wait and websocket routes
	// hold the response until the job settles.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(app.routerCfg),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Settle open watches first so long-polls return and shutdown can drain.
	app.registry.CancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type application struct {
	registry  *watch.Registry
	routerCfg *router.Config
}

func buildApp(cfg *appconfig.Config, stores bootstrap.Stores, watchMetrics *metrics.WatchMetrics, backendMetrics *metrics.BackendMetrics, logger *logging.Logger) (*application, error) {
	client, err := jobclient.New(jobclient.Config{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
		Metrics: backendMetrics,
	})
	if err != nil {
		return nil, err
	}

	strategy, err := watch.ParseStrategy(cfg.JobWatchStrategy, watch.StrategyStream)
	if err != nil {
		logger.Warn("invalid JOB_WATCH_STRATEGY; using STREAM", "value", cfg.JobWatchStrategy)
		strategy = watch.StrategyStream
	}

	registry := watch.NewRegistry(stores.WatchConfig(watch.Config{
		Fetcher:  client,
		Opener:   client,
		Strategy: strategy,
		Interval: cfg.JobPollInterval,
		Timeout:  cfg.JobWatchTimeout,
		Metrics:  watchMetrics,
		Logger:   logger,
	}))

	var lister handlers.HistoryLister
	if stores.History != nil {
		lister = stores.History
	}

	proxy, err := handlers.NewBackendProxy(cfg.BackendBaseURL, "/api", logger)
	if err != nil {
		return nil, err
	}

	var limiter *httpmiddleware.RateLimiter
	if cfg.JobStartRate > 0 && cfg.JobStartBurst > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.JobStartRate, cfg.JobStartBurst)
	}

	corsPolicy := httpmiddleware.CORSPolicy{Origins: cfg.CORSAllowedOrigins, MaxAge: cfg.CORSMaxAge}

	return &application{
		registry: registry,
		routerCfg: &router.Config{
			Logger:             logger,
			Jobs:               handlers.NewJobsHandler(registry, lister, logger).WithOriginCheck(corsPolicy.OriginChecker()),
			Uploads:            handlers.NewUploadsHandler(client, registry, logger),
			Schedules:          handlers.NewSchedulesHandler(client, registry, logger),
			BackendProxy:       proxy,
			AdminAuthSecret:    cfg.AdminJWTSecret,
			CORSAllowedOrigins: corsPolicy.Origins,
			CORSMaxAge:         corsPolicy.MaxAge,
			JobStartLimiter:    limiter,
		},
	}, nil
}

func setupMetrics() (http.Handler, *metrics.WatchMetrics, *metrics.BackendMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return handler, metrics.NewWatchMetrics(reg), metrics.NewBackendMetrics(reg)
}
