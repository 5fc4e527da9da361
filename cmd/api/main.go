package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pitchtrail/pitchtrail-backend/api/routes"
	"github.com/pitchtrail/pitchtrail-backend/internal/cadence"
	"github.com/pitchtrail/pitchtrail-backend/internal/quota"
	"github.com/pitchtrail/pitchtrail-backend/internal/suppression"
	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/instance"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/metrics"
	"github.com/pitchtrail/pitchtrail-backend/pkg/migrate"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	reg := metrics.NewRegistry()
	cadenceMetrics := metrics.NewCadenceMetrics(reg)

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	cadenceRepo := cadence.NewRepository(dbClient.DB())

	builder, err := cadence.NewBuilder(cadence.BuilderParams{
		TxRunner: dbClient,
		Repo:     cadenceRepo,
		Outbox:   emitter,
		Metrics:  cadenceMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cadence builder", err)
		os.Exit(1)
	}
	canceller, err := cadence.NewCanceller(cadence.CancellerParams{
		TxRunner: dbClient,
		Repo:     cadenceRepo,
		Outbox:   emitter,
		Metrics:  cadenceMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cadence canceller", err)
		os.Exit(1)
	}
	reader, err := cadence.NewReader(cadenceRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create cadence reader", err)
		os.Exit(1)
	}
	optOuts, err := suppression.NewService(suppression.ServiceParams{
		TxRunner:  dbClient,
		Repo:      suppression.NewRepository(dbClient.DB()),
		Canceller: canceller,
		Outbox:    emitter,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create suppression service", err)
		os.Exit(1)
	}
	quotaService, err := quota.NewService(quota.ServiceParams{
		Repo:                quota.NewRepository(dbClient.DB()),
		DefaultMonthlyLimit: cfg.Quota.DefaultMonthlyLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create quota service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:    cfg,
			Logger:    logg,
			DB:        dbClient,
			Redis:     redisClient,
			Builder:   builder,
			Canceller: canceller,
			Reader:    reader,
			OptOuts:   optOuts,
			Quota:     quotaService,
			Metrics:   metrics.Handler(reg),
		}),
		ReadHeaderTimeout: cfg.API.ReadTimeout,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
