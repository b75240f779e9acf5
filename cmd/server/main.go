package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appquota "github.com/larklabs/backend/internal/application/quota"
	"github.com/larklabs/backend/internal/infrastructure/auth"
	"github.com/larklabs/backend/internal/infrastructure/cache"
	"github.com/larklabs/backend/internal/infrastructure/config"
	"github.com/larklabs/backend/internal/infrastructure/logger"
	"github.com/larklabs/backend/internal/infrastructure/persistence"
	"github.com/larklabs/backend/internal/infrastructure/scheduler"
	"github.com/larklabs/backend/internal/infrastructure/telemetry"
	"github.com/larklabs/backend/internal/interfaces/http/handler"
	"github.com/larklabs/backend/internal/interfaces/http/middleware"
	"github.com/larklabs/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search ./config.toml)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting LARK quota service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("store", cfg.Store.Driver),
	)

	ctx := context.Background()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	quotaMetrics, err := telemetry.NewQuotaMetrics(meterProvider.Meter(telemetry.TracerName))
	if err != nil {
		log.Fatal("Failed to create quota metrics", zap.Error(err))
	}

	registry, err := cfg.TierRegistry()
	if err != nil {
		log.Fatal("Invalid tier configuration", zap.Error(err))
	}
	log.Info("Tier registry loaded", zap.Int("tiers", registry.Len()))

	healthChecks := map[string]handler.HealthCheck{}
	factoryOpts := []cache.UsageStoreFactoryOption{cache.WithLogger(log)}

	if cfg.Store.Driver == config.StoreDriverPostgres {
		gormLog := logger.NewGormLogger(log, logger.GormLevel(cfg.Log.Level), 200*time.Millisecond)
		db, err := persistence.NewDatabase(&cfg.Database, gormLog)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("Error closing database", zap.Error(err))
			}
		}()
		log.Info("Database connected successfully")
		factoryOpts = append(factoryOpts, cache.WithDatabase(db.DB))
		healthChecks["database"] = db.Ping
	}

	store, closeStore, err := cache.NewUsageStoreFactory(cfg, factoryOpts...).CreateStore()
	if err != nil {
		log.Fatal("Failed to create usage store", zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("Error closing usage store", zap.Error(err))
		}
	}()
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		healthChecks["store"] = p.Ping
	}

	quotaService := appquota.NewQuotaService(registry, store, log,
		appquota.WithMetrics(quotaMetrics),
	)

	if cfg.Scheduler.Enabled {
		rollover := scheduler.NewRolloverScheduler(cfg.Scheduler, quotaService, quotaMetrics, log)
		if err := rollover.Start(ctx); err != nil {
			log.Fatal("Failed to start rollover scheduler", zap.Error(err))
		}
		defer func() {
			if err := rollover.Stop(context.Background()); err != nil {
				log.Error("Error stopping rollover scheduler", zap.Error(err))
			}
		}()
		log.Info("Rollover scheduler started",
			zap.String("cron", cfg.Scheduler.RolloverCron),
			zap.Duration("job_timeout", cfg.Scheduler.JobTimeout),
		)
	}

	deps := router.Dependencies{
		Config:       cfg,
		Logger:       log,
		Service:      quotaService,
		HealthChecks: healthChecks,
	}
	if cfg.JWT.Enabled {
		deps.JWT = auth.NewJWTService(cfg.JWT)
		log.Info("JWT authentication enabled", zap.String("issuer", cfg.JWT.Issuer))
	}
	if cfg.HTTP.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		defer limiter.Stop()
		deps.RateLimiter = limiter
	}

	engine, err := router.NewEngine(deps)
	if err != nil {
		log.Fatal("Failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
