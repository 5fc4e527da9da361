package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pitchtrail/pitchtrail-backend/internal/cadence"
	"github.com/pitchtrail/pitchtrail-backend/internal/consumers/activity"
	"github.com/pitchtrail/pitchtrail-backend/internal/consumers/proposals"
	"github.com/pitchtrail/pitchtrail-backend/internal/quota"
	"github.com/pitchtrail/pitchtrail-backend/internal/suppression"
	"github.com/pitchtrail/pitchtrail-backend/internal/transport"
	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/instance"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/metrics"
	"github.com/pitchtrail/pitchtrail-backend/pkg/migrate"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/idempotency"
	"github.com/pitchtrail/pitchtrail-backend/pkg/pubsub"
	"github.com/pitchtrail/pitchtrail-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cadence-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cadence-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cadence-worker",
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "cadence worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(bootCtx, cfg.GCP, cfg.PubSub, logg,
		pubsub.WithSubscriptions(cfg.PubSub.ProposalEventsSubscription, cfg.PubSub.ActivitySubscription))
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing pubsub client", err)
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
		return fmt.Errorf("create builder: %w", err)
	}
	canceller, err := cadence.NewCanceller(cadence.CancellerParams{
		TxRunner: dbClient,
		Repo:     cadenceRepo,
		Outbox:   emitter,
		Metrics:  cadenceMetrics,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("create canceller: %w", err)
	}
	optOuts, err := suppression.NewService(suppression.ServiceParams{
		TxRunner:  dbClient,
		Repo:      suppression.NewRepository(dbClient.DB()),
		Canceller: canceller,
		Outbox:    emitter,
		Logger:    logg,
	})
	if err != nil {
		return fmt.Errorf("create suppression service: %w", err)
	}
	quotaService, err := quota.NewService(quota.ServiceParams{
		Repo:                quota.NewRepository(dbClient.DB()),
		DefaultMonthlyLimit: cfg.Quota.DefaultMonthlyLimit,
	})
	if err != nil {
		return fmt.Errorf("create quota service: %w", err)
	}

	router, err := buildTransport(bootCtx, cfg, logg, dbClient)
	if err != nil {
		return err
	}

	workerID := instance.GetID()
	dispatcher, err := cadence.NewDispatcher(cadence.DispatcherParams{
		TxRunner:    dbClient,
		Repo:        cadenceRepo,
		Canceller:   canceller,
		Suppression: optOuts,
		Quota:       quotaService,
		Transport:   router,
		Outbox:      emitter,
		Metrics:     cadenceMetrics,
		Logger:      logg,
		Config:      cfg.Cadence,
		WorkerID:    workerID,
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("create idempotency manager: %w", err)
	}

	proposalSub := pubsubClient.ProposalEventsSubscription()
	if proposalSub == nil {
		return errors.New("proposal events subscription not configured")
	}
	proposalConsumer, err := proposals.NewConsumer(proposals.Params{
		Subscription: proposalSub,
		Idempotency:  manager,
		Builder:      builder,
		Canceller:    canceller,
		OptOuts:      optOuts,
		Logger:       logg,
	})
	if err != nil {
		return fmt.Errorf("create proposal consumer: %w", err)
	}

	activitySub := pubsubClient.ActivitySubscription()
	if activitySub == nil {
		return errors.New("activity subscription not configured")
	}
	activityConsumer, err := activity.NewConsumer(activitySub, manager, activity.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return fmt.Errorf("create activity consumer: %w", err)
	}

	service, err := NewService(ServiceParams{
		Logger: logg,
		Dependencies: map[string]pinger{
			"database": dbClient,
			"redis":    redisClient,
			"pubsub":   pubsubClient,
		},
		Dispatcher: dispatcher,
		Consumers: map[string]consumer{
			"proposal-events": proposalConsumer,
			"activity":        activityConsumer,
		},
		PollInterval: cfg.Cadence.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("create cadence worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"worker_id":   workerID,
	})

	metricsServer := metrics.Serve(ctx, logg, cfg.App.Port, reg)
	defer func() {
		if err := metricsServer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logg.Error(ctx, "metrics server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting cadence worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cadence worker shutting down gracefully")
	return nil
}

// buildTransport routes email steps to SES, or to the log transport in log mode, and
// call steps to the follow-up task table.
func buildTransport(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*transport.Router, error) {
	templates, err := transport.NewTemplates(cfg.Transport.FromName)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	var email transport.Transport
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Mode)) {
	case config.TransportModeSES:
		client, err := transport.NewSESClient(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("create ses client: %w", err)
		}
		email, err = transport.NewSESTransport(transport.SESParams{
			Client:    client,
			Templates: templates,
			Config:    cfg.Transport,
			Logger:    logg,
		})
		if err != nil {
			return nil, fmt.Errorf("create ses transport: %w", err)
		}
	default:
		email = transport.NewLogTransport(templates, logg)
	}

	tasks, err := transport.NewTaskTransport(dbClient.DB(), templates)
	if err != nil {
		return nil, fmt.Errorf("create task transport: %w", err)
	}
	return transport.NewRouter(email, tasks)
}
