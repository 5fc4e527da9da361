package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pitchtrail/pitchtrail-backend/internal/cadence"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type ticker interface {
	Tick(ctx context.Context) (cadence.TickResult, error)
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies map[string]pinger
	Dispatcher   ticker
	Consumers    map[string]consumer
	PollInterval time.Duration
}

// Service drives the dispatcher on a fixed poll interval and keeps the Pub/Sub
// consumers receiving. It stops when ctx is canceled or any consumer exits.
type Service struct {
	logg         *logger.Logger
	deps         map[string]pinger
	dispatcher   ticker
	consumers    map[string]consumer
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if params.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	for name, c := range params.Consumers {
		if c == nil {
			return nil, fmt.Errorf("consumer %s is nil", name)
		}
	}
	return &Service{
		logg:         params.Logger,
		deps:         params.Dependencies,
		dispatcher:   params.Dispatcher,
		consumers:    params.Consumers,
		pollInterval: params.PollInterval,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all cadence worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for name, c := range s.consumers {
		group.Go(func() error {
			consumerCtx := s.logg.WithField(groupCtx, "consumer", name)
			s.logg.Info(consumerCtx, "consumer starting")
			if err := c.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s consumer: %w", name, err)
			}
			return groupCtx.Err()
		})
	}
	group.Go(func() error {
		return s.pollLoop(groupCtx)
	})
	return group.Wait()
}

// pollLoop ticks immediately, then once per interval. A failed tick is logged and
// retried on the next interval.
func (s *Service) pollLoop(ctx context.Context) error {
	s.tick(ctx)
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cadence poll loop stopped")
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.dispatcher.Tick(ctx); err != nil {
		s.logg.Error(ctx, "cadence tick failed", err)
	}
}
