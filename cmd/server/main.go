package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/analytics"
	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/catalog"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/control"
	"github.com/nulzo/model-gateway/internal/controlstore"
	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/health"
	"github.com/nulzo/model-gateway/internal/matching"
	"github.com/nulzo/model-gateway/internal/platform/logger"
	"github.com/nulzo/model-gateway/internal/platform/metrics"
	"github.com/nulzo/model-gateway/internal/platform/otel"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/selfheal"
	"github.com/nulzo/model-gateway/internal/server"
	"github.com/nulzo/model-gateway/internal/store/cache"
	"github.com/nulzo/model-gateway/internal/store/sqlite"
	"github.com/nulzo/model-gateway/internal/tasks"
	"github.com/nulzo/model-gateway/internal/upstream"
)

const jobBackup = "db_backup"

func main() {
	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	// 1. Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Telemetry
	if cfg.Telemetry.TracingEnabled {
		shutdown, err := otel.InitTracer(cfg.Telemetry.ServiceName, log, os.Stdout)
		if err != nil {
			log.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	var (
		m        *metrics.Metrics
		metricsH http.Handler
	)
	if cfg.Telemetry.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		metricsH = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// 3. Storage
	repo, err := sqlite.NewSQLiteStorage(cfg.Store.Path, log)
	if err != nil {
		log.Fatal("Failed to open store", zap.String("path", cfg.Store.Path), zap.Error(err))
	}
	defer func() { _ = repo.Close() }()

	cacheSvc, err := cache.New(cfg.Cache, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}

	cs := controlstore.New(repo, log)
	auditor := audit.NewService(repo, log, cfg.Audit.Key, cfg.Server.APIKey, cfg.Audit.RetentionDays)

	// 4. Registries
	registryOpts := []provider.Option{provider.WithMetrics(m)}
	if cfg.Store.SeedFile != "" {
		seed, err := provider.LoadSeedFile(cfg.Store.SeedFile)
		if err != nil {
			log.Fatal("Failed to read provider seed file", zap.String("path", cfg.Store.SeedFile), zap.Error(err))
		}
		registryOpts = append(registryOpts, provider.WithSeed(seed))
	}
	registry := provider.NewRegistry(cs, cfg.Upstream, log, registryOpts...)
	if _, err := registry.Load(ctx); err != nil {
		log.Fatal("Failed to load providers", zap.Error(err))
	}
	models := provider.NewModelRegistry(cs, registry, cfg.Upstream.Model, log)
	if err := models.Load(ctx); err != nil {
		log.Fatal("Failed to load model registry", zap.Error(err))
	}
	reload := func(ctx context.Context) error {
		if _, err := registry.Load(ctx); err != nil {
			return err
		}
		return models.Load(ctx)
	}

	// 5. Routing
	client := upstream.New(&http.Client{}, log)
	// The ingestor and runner outlive the signal context; Stop drains them
	// after the HTTP server has finished.
	ingestor := analytics.NewIngestor(log, repo)
	ingestor.Start(ctx)

	gatewaySvc := gateway.NewService(log, registry, models, client,
		gateway.WithIngestor(ingestor),
		gateway.WithCache(cacheSvc, cfg.Cache.TTL),
		gateway.WithMetrics(m),
	)

	// 6. Control plane
	monitor := health.NewMonitor(registry, client, log,
		health.WithInterval(cfg.Scheduler.HealthInterval),
		health.WithMetrics(m),
	)
	catalogSvc := catalog.NewService(repo, registry, client, auditor, log, catalog.WithMetrics(m))
	engine := matching.NewEngine(repo, auditor, log)
	controlSvc := control.NewService(registry, models, catalogSvc, engine, client, auditor, log)
	healer := selfheal.NewService(repo, cs, auditor, catalogSvc, cfg.Store.Path, cfg.Store.BackupDir, log)

	if name, err := healer.Backup(ctx, tasks.Actor, "startup"); err != nil {
		log.Warn("Startup backup failed", zap.Error(err))
	} else {
		log.Info("Startup backup written", zap.String("backup", name))
	}

	// 7. Background work
	handlers := controlSvc.JobHandlers()
	handlers[jobBackup] = func(ctx context.Context, job tasks.Job) error {
		_, err := healer.Backup(ctx, tasks.Actor, "scheduled")
		return err
	}
	runner := tasks.NewRunner(repo, handlers, log,
		tasks.WithPollInterval(cfg.Scheduler.PollInterval),
		tasks.WithMetrics(m),
		tasks.WithStep("health", func(ctx context.Context) error {
			_, err := monitor.Tick(ctx)
			return err
		}),
		tasks.WithResearch(tasks.NewChatResearcher(gatewaySvc, "")),
		tasks.WithStep("self_heal", func(ctx context.Context) error {
			_, err := healer.DailyTick(ctx, tasks.Actor)
			return err
		}),
	)
	if cfg.Scheduler.Enabled {
		runner.Start(ctx)
	}

	// 8. HTTP
	srv := server.New(cfg, log, server.Services{
		Registry:  registry,
		Models:    models,
		Gateway:   gatewaySvc,
		Control:   controlSvc,
		Catalog:   catalogSvc,
		Matching:  engine,
		SelfHeal:  healer,
		Audit:     auditor,
		Analytics: analytics.NewService(repo),
		Tasks:     runner,
		Metrics:   metricsH,
		Reload:    reload,
	})
	httpServer := srv.HTTPServer()

	go func() {
		log.Info("Starting model gateway", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Server.Env))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	runner.Stop()
	ingestor.Stop()
}
