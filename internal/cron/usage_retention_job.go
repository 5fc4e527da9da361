package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

const usageCounterRetentionDays = 400

type UsageRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repository    usageCounterPruner
	RetentionDays int
}

type usageCounterPruner interface {
	DeleteEndedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewUsageRetentionJob drops monthly send counters whose period closed more than
// RetentionDays ago. Counters of the current period are never touched.
func NewUsageRetentionJob(params UsageRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("usage counter repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = usageCounterRetentionDays
	}
	return &usageRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type usageRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      usageCounterPruner
	retention int
	now       func() time.Time
}

func (j *usageRetentionJob) Name() string { return "usage-counter-retention" }

func (j *usageRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeleteEndedBefore(ctx, tx, cutoff)
		deleted = rows
		return err
	})
	if err != nil {
		return fmt.Errorf("usage counter retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "usage counter retention complete")
	return nil
}
