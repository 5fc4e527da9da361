package cadence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	pkgerrors "github.com/pitchtrail/pitchtrail-backend/pkg/errors"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/metrics"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/payloads"
)

// CancellerParams wires the cancellation propagator.
type CancellerParams struct {
	TxRunner db.TxRunner
	Repo     *Repository
	Outbox   outbox.Emitter
	Metrics  *metrics.CadenceMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// Canceller stops the remaining scheduled events of a run when a proposal
// is engaged, closed, replied to, or explicitly cancelled.
type Canceller struct {
	tx      db.TxRunner
	repo    *Repository
	outbox  outbox.Emitter
	metrics *metrics.CadenceMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewCanceller(params CancellerParams) (*Canceller, error) {
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
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Canceller{
		tx:      params.TxRunner,
		repo:    params.Repo,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// CancelRun cancels the run's scheduled events and the run itself. A run that is no longer
// active is a no-op returning 0.
func (c *Canceller) CancelRun(ctx context.Context, runID uuid.UUID, reason enums.CadenceReason) (int64, error) {
	if runID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "run id required")
	}
	if !reason.IsValid() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid cancel reason")
	}

	now := c.now().UTC()
	var (
		cancelled int64
		changed   bool
		run       *models.CadenceRun
	)
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		run, err = c.repo.GetRun(ctx, tx, runID)
		if err != nil {
			return err
		}
		if run.Status != enums.CadenceRunActive {
			return nil
		}
		cancelled, err = c.repo.CancelScheduledForRun(ctx, tx, runID, reason, now)
		if err != nil {
			return err
		}
		changed, err = c.repo.MarkRunCancelled(ctx, tx, runID, reason, now)
		if err != nil || !changed {
			return err
		}
		return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCadenceRunCancelled,
			AggregateType: enums.AggregateCadenceRun,
			AggregateID:   runID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorKindSystem},
			OccurredAt:    now,
			Data: payloads.CadenceRunCancelledEvent{
				RunID:          run.ID,
				OrganizationID: run.OrganizationID,
				ProposalID:     run.ProposalID,
				Reason:         reason,
				Cancelled:      cancelled,
			},
		})
	})
	if err != nil {
		if db.IsNotFound(err) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "cadence run not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel cadence run")
	}
	if !changed {
		return 0, nil
	}

	c.metrics.IncRun(metrics.RunActionCancelled)
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"run_id":      runID.String(),
		"proposal_id": run.ProposalID.String(),
		"reason":      reason,
		"cancelled":   cancelled,
	})
	c.logg.Info(logCtx, "cadence run cancelled")
	return cancelled, nil
}

// CancelForContactTx cancels, inside tx, every active run of the organization addressed to the
// normalized email. Runs are cancelled alongside their scheduled events so a later send can start fresh.
func (c *Canceller) CancelForContactTx(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, email string, reason enums.CadenceReason) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	runs, err := c.repo.ActiveRunsForContact(ctx, tx, organizationID, email)
	if err != nil {
		return 0, err
	}

	now := c.now().UTC()
	var total int64
	for _, run := range runs {
		cancelled, err := c.repo.CancelScheduledForRun(ctx, tx, run.ID, reason, now)
		if err != nil {
			return 0, err
		}
		changed, err := c.repo.MarkRunCancelled(ctx, tx, run.ID, reason, now)
		if err != nil {
			return 0, err
		}
		total += cancelled
		if !changed {
			continue
		}
		if err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCadenceRunCancelled,
			AggregateType: enums.AggregateCadenceRun,
			AggregateID:   run.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorKindSystem},
			OccurredAt:    now,
			Data: payloads.CadenceRunCancelledEvent{
				RunID:          run.ID,
				OrganizationID: run.OrganizationID,
				ProposalID:     run.ProposalID,
				Reason:         reason,
				Cancelled:      cancelled,
			},
		}); err != nil {
			return 0, err
		}
		c.metrics.IncRun(metrics.RunActionCancelled)
	}
	return total, nil
}

// CancelForProposal cancels the proposal's active run, if any.
func (c *Canceller) CancelForProposal(ctx context.Context, proposalID uuid.UUID, reason enums.CadenceReason) (int64, error) {
	if proposalID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "proposal id required")
	}
	run, err := c.repo.FindActiveRun(ctx, nil, proposalID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find active cadence run")
	}
	if run == nil {
		return 0, nil
	}
	return c.CancelRun(ctx, run.ID, reason)
}

// OnProposalStatusChanged cancels the active run when the new status ends outreach.
func (c *Canceller) OnProposalStatusChanged(ctx context.Context, proposalID uuid.UUID, status enums.ProposalStatus) (int64, error) {
	reason, ok := ReasonForProposalStatus(status)
	if !ok {
		return 0, nil
	}
	return c.CancelForProposal(ctx, proposalID, reason)
}

// OnReply cancels the active run after the recipient replied.
func (c *Canceller) OnReply(ctx context.Context, proposalID uuid.UUID) (int64, error) {
	return c.CancelForProposal(ctx, proposalID, enums.ReasonReplyReceived)
}

// ReasonForProposalStatus maps a proposal status to the cancel reason it implies.
func ReasonForProposalStatus(status enums.ProposalStatus) (enums.CadenceReason, bool) {
	switch {
	case status.Engaged():
		return enums.ReasonProposalEngaged, true
	case status.Closed():
		return enums.ReasonProposalClosed, true
	default:
		return "", false
	}
}
