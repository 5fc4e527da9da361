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

const activeRunIndex = "ux_cadence_runs_active_proposal"

// BuilderParams wires the run builder.
type BuilderParams struct {
	TxRunner db.TxRunner
	Repo     *Repository
	Outbox   outbox.Emitter
	Metrics  *metrics.CadenceMetrics
	Logger   *logger.Logger
}

// Builder materializes a run and its scheduled events when a proposal is sent.
type Builder struct {
	tx      db.TxRunner
	repo    *Repository
	outbox  outbox.Emitter
	metrics *metrics.CadenceMetrics
	logg    *logger.Logger
}

type StartRunInput struct {
	OrganizationID uuid.UUID
	ProposalID     uuid.UUID
	FirstSentAt    time.Time
}

type StartRunResult struct {
	RunID         uuid.UUID
	AlreadyExists bool
}

func NewBuilder(params BuilderParams) (*Builder, error) {
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
	return &Builder{
		tx:      params.TxRunner,
		repo:    params.Repo,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// StartRun creates the run and all of its events atomically. When the proposal already has an
// active run, nothing is written and the existing run id is returned with AlreadyExists set.
func (b *Builder) StartRun(ctx context.Context, input StartRunInput) (StartRunResult, error) {
	if input.OrganizationID == uuid.Nil {
		return StartRunResult{}, pkgerrors.New(pkgerrors.CodeValidation, "organization id required")
	}
	if input.ProposalID == uuid.Nil {
		return StartRunResult{}, pkgerrors.New(pkgerrors.CodeValidation, "proposal id required")
	}
	if input.FirstSentAt.IsZero() {
		return StartRunResult{}, pkgerrors.New(pkgerrors.CodeValidation, "first sent at required")
	}

	ctx = b.logg.WithProposalID(b.logg.WithOrganizationID(ctx, input.OrganizationID.String()), input.ProposalID.String())
	firstSentAt := input.FirstSentAt.UTC()

	var result StartRunResult
	err := b.tx.WithTx(ctx, func(tx *gorm.DB) error {
		proposal, err := b.repo.GetProposal(ctx, tx, input.ProposalID)
		if err != nil {
			return err
		}
		if proposal.OrganizationID != input.OrganizationID {
			return pkgerrors.New(pkgerrors.CodeValidation, "proposal does not belong to organization")
		}

		existing, err := b.repo.FindActiveRun(ctx, tx, input.ProposalID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = StartRunResult{RunID: existing.ID, AlreadyExists: true}
			return nil
		}

		run := models.CadenceRun{
			OrganizationID: input.OrganizationID,
			ProposalID:     input.ProposalID,
			Status:         enums.CadenceRunActive,
			FirstSentAt:    firstSentAt,
		}
		if err := b.repo.CreateRun(ctx, tx, &run); err != nil {
			return err
		}

		schedule := Schedule(firstSentAt)
		events := make([]models.CadenceEvent, 0, len(schedule))
		for _, step := range schedule {
			events = append(events, models.CadenceEvent{
				ID:             uuid.New(),
				OrganizationID: input.OrganizationID,
				ProposalID:     input.ProposalID,
				RunID:          run.ID,
				Kind:           step.Kind,
				Status:         enums.CadenceEventScheduled,
				ScheduledFor:   step.ScheduledFor,
			})
		}
		if err := b.repo.CreateEvents(ctx, tx, events); err != nil {
			return err
		}

		stepPayloads := make([]payloads.CadenceStep, 0, len(events))
		for _, event := range events {
			stepPayloads = append(stepPayloads, payloads.CadenceStep{
				EventID:      event.ID,
				Kind:         event.Kind,
				ScheduledFor: event.ScheduledFor,
			})
		}
		if err := b.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCadenceRunStarted,
			AggregateType: enums.AggregateCadenceRun,
			AggregateID:   run.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorKindSystem},
			Data: payloads.CadenceRunStartedEvent{
				RunID:          run.ID,
				OrganizationID: run.OrganizationID,
				ProposalID:     run.ProposalID,
				FirstSentAt:    firstSentAt,
				Steps:          stepPayloads,
			},
		}); err != nil {
			return err
		}

		result = StartRunResult{RunID: run.ID}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, activeRunIndex) {
			return b.existingRun(ctx, input.ProposalID)
		}
		if db.IsNotFound(err) {
			return StartRunResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		if typed := pkgerrors.As(err); typed != nil {
			return StartRunResult{}, typed
		}
		return StartRunResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "start cadence run")
	}

	if result.AlreadyExists {
		b.metrics.IncRun(metrics.RunActionDuplicate)
		b.logg.Info(b.logg.WithField(ctx, "run_id", result.RunID.String()), "cadence run already active")
		return result, nil
	}

	b.metrics.IncRun(metrics.RunActionStarted)
	b.logg.Info(b.logg.WithField(ctx, "run_id", result.RunID.String()), "cadence run started")
	return result, nil
}

// existingRun resolves the winner after losing the insert race on the active-run index.
func (b *Builder) existingRun(ctx context.Context, proposalID uuid.UUID) (StartRunResult, error) {
	run, err := b.repo.FindActiveRun(ctx, nil, proposalID)
	if err != nil {
		return StartRunResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active cadence run")
	}
	if run == nil {
		return StartRunResult{}, pkgerrors.New(pkgerrors.CodeConflict, "cadence run changed concurrently")
	}
	b.metrics.IncRun(metrics.RunActionDuplicate)
	return StartRunResult{RunID: run.ID, AlreadyExists: true}, nil
}
