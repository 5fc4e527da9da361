package cron

import (
	"context"
	"fmt"

	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

type leaseSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type LeaseSweepJobParams struct {
	Logger  *logger.Logger
	Sweeper leaseSweeper
}

// NewLeaseSweepJob fails cadence events whose workers died holding the lease on their last attempt.
func NewLeaseSweepJob(params LeaseSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("lease sweeper required")
	}
	return &leaseSweepJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type leaseSweepJob struct {
	logg    *logger.Logger
	sweeper leaseSweeper
}

func (j *leaseSweepJob) Name() string { return "cadence-lease-sweep" }

func (j *leaseSweepJob) Run(ctx context.Context) error {
	failed, err := j.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("cadence lease sweep: %w", err)
	}
	if failed > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "events_failed", failed), "exhausted cadence claims failed")
	}
	return nil
}
