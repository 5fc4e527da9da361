package cadence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/metrics"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/payloads"
)

const leaseExhaustedMessage = "lease expired after max attempts"

type LeaseSweeperParams struct {
	TxRunner db.TxRunner
	Repo     *Repository
	Outbox   outbox.Emitter
	Metrics  *metrics.CadenceMetrics
	Logger   *logger.Logger
	Config   config.CadenceConfig
	Now      func() time.Time
}

// LeaseSweeper finalizes claims whose lease expired with no attempts left. Without it those
// events would stay claimed forever, since the due predicate never selects them again.
type LeaseSweeper struct {
	tx      db.TxRunner
	repo    *Repository
	outbox  outbox.Emitter
	metrics *metrics.CadenceMetrics
	logg    *logger.Logger
	cfg     config.CadenceConfig
	now     func() time.Time
}

func NewLeaseSweeper(params LeaseSweeperParams) (*LeaseSweeper, error) {
	if params.TxRunner == nil {
		return nil, errors.New("tx runner required")
	}
	if params.Repo == nil {
		return nil, errors.New("cadence repository required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Config.LeaseTimeout <= 0 || params.Config.MaxAttempts <= 0 {
		return nil, errors.New("lease timeout and max attempts required")
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &LeaseSweeper{
		tx:      params.TxRunner,
		repo:    params.Repo,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		cfg:     cfg,
		now:     now,
	}, nil
}

// Sweep marks exhausted claims failed_permanent and completes drained runs. Returns the number failed.
func (s *LeaseSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.LeaseTimeout)
	events, err := s.repo.FindExhaustedClaims(ctx, cutoff, s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, event := range events {
		message := leaseExhaustedMessage
		var changed bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			changed, err = s.repo.FailExhaustedClaim(ctx, tx, event, cutoff, s.cfg.MaxAttempts, message, now)
			if err != nil || !changed {
				return err
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCadenceEventResolved,
				AggregateType: enums.AggregateCadenceEvent,
				AggregateID:   event.ID,
				Actor:         &outbox.ActorRef{Kind: outbox.ActorKindSystem},
				OccurredAt:    now,
				Data: payloads.CadenceEventResolvedEvent{
					EventID:        event.ID,
					RunID:          event.RunID,
					OrganizationID: event.OrganizationID,
					ProposalID:     event.ProposalID,
					Kind:           event.Kind,
					Status:         enums.CadenceEventFailedPermanent,
					AttemptCount:   event.AttemptCount,
					Error:          &message,
					ProcessedAt:    now,
				},
			}); err != nil {
				return err
			}
			_, err = s.repo.CompleteRunIfDrained(ctx, tx, event.RunID, now)
			return err
		})
		if err != nil {
			return failed, err
		}
		if changed {
			failed++
			s.metrics.IncDispatch(string(event.Kind), metrics.OutcomeFailedPermanent)
		}
	}

	if failed > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "failed", failed), "exhausted cadence claims finalized")
	}
	return failed, nil
}
