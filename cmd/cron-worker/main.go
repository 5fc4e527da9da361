package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pitchtrail/pitchtrail-backend/internal/cadence"
	"github.com/pitchtrail/pitchtrail-backend/internal/cron"
	"github.com/pitchtrail/pitchtrail-backend/internal/quota"
	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/instance"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/metrics"
	"github.com/pitchtrail/pitchtrail-backend/pkg/migrate"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	lock, err := cron.NewRedisLock(redisClient, lockName, instance.GetID(), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	reg := metrics.NewRegistry()
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"lock_key":    lock.Key(),
	})
	metricsServer := metrics.Serve(ctx, logg, cfg.App.Port, reg)
	defer func() {
		if err := metricsServer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logg.Error(ctx, "metrics server shutdown failed", err)
		}
	}()
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	sweeper, err := cadence.NewLeaseSweeper(cadence.LeaseSweeperParams{
		TxRunner: dbClient,
		Repo:     cadence.NewRepository(dbClient.DB()),
		Outbox:   emitter,
		Logger:   logg,
		Config:   cfg.Cadence,
	})
	if err != nil {
		return nil, fmt.Errorf("lease sweeper: %w", err)
	}

	leaseJob, err := cron.NewLeaseSweepJob(cron.LeaseSweepJobParams{Logger: logg, Sweeper: sweeper})
	if err != nil {
		return nil, err
	}
	usageJob, err := cron.NewUsageRetentionJob(cron.UsageRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    quota.NewRepository(dbClient.DB()),
		RetentionDays: cfg.Retention.UsageCounterDays,
	})
	if err != nil {
		return nil, err
	}
	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		RetentionDays: cfg.Retention.OutboxDays,
		MinAttempts:   cfg.Outbox.MaxAttempts,
		DLQ:           outbox.NewDLQRepository(dbClient.DB()),
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(leaseJob, usageJob, outboxJob)
}
