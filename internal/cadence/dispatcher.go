package cadence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/internal/quota"
	"github.com/pitchtrail/pitchtrail-backend/internal/transport"
	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	pkgerrors "github.com/pitchtrail/pitchtrail-backend/pkg/errors"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/metrics"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/payloads"
)

const maxErrorLength = 1024

// SuppressionChecker answers whether an address opted out.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, organizationID uuid.UUID, email string) (bool, error)
}

// QuotaGate checks and consumes per-organization send quota.
type QuotaGate interface {
	CanSend(ctx context.Context, organizationID uuid.UUID) (quota.Decision, error)
	RecordSent(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID) error
}

// ClaimedEvent is an event this worker holds a lease on.
type ClaimedEvent struct {
	Event models.CadenceEvent
	Token uuid.UUID
}

// DispatcherParams wires the claim/dispatch loop.
type DispatcherParams struct {
	TxRunner    db.TxRunner
	Repo        *Repository
	Canceller   *Canceller
	Suppression SuppressionChecker
	Quota       QuotaGate
	Transport   transport.Transport
	Outbox      outbox.Emitter
	Metrics     *metrics.CadenceMetrics
	Logger      *logger.Logger
	Config      config.CadenceConfig
	WorkerID    string
	Now         func() time.Time
}

// Dispatcher finds due events, claims them and performs their side effect.
type Dispatcher struct {
	tx          db.TxRunner
	repo        *Repository
	canceller   *Canceller
	suppression SuppressionChecker
	quota       QuotaGate
	transport   transport.Transport
	outbox      outbox.Emitter
	metrics     *metrics.CadenceMetrics
	logg        *logger.Logger
	cfg         config.CadenceConfig
	workerID    string
	now         func() time.Time
}

// TickResult summarizes one pass over the due events.
type TickResult struct {
	Due       int
	Claimed   int
	Conflicts int
	Failed    int
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	switch {
	case params.TxRunner == nil:
		return nil, errors.New("tx runner required")
	case params.Repo == nil:
		return nil, errors.New("cadence repository required")
	case params.Canceller == nil:
		return nil, errors.New("canceller required")
	case params.Suppression == nil:
		return nil, errors.New("suppression checker required")
	case params.Quota == nil:
		return nil, errors.New("quota gate required")
	case params.Transport == nil:
		return nil, errors.New("transport required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.WorkerID == "":
		return nil, errors.New("worker id required")
	}
	cfg := params.Config
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = 30 * time.Second
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		tx:          params.TxRunner,
		repo:        params.Repo,
		canceller:   params.Canceller,
		suppression: params.Suppression,
		quota:       params.Quota,
		transport:   params.Transport,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        params.Logger,
		cfg:         cfg,
		workerID:    params.WorkerID,
		now:         now,
	}, nil
}

func (d *Dispatcher) window(now time.Time) DueWindow {
	return NewDueWindow(now, d.cfg.LeaseTimeout, d.cfg.MaxAttempts)
}

// FindDue lists claimable events as of now.
func (d *Dispatcher) FindDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = d.cfg.BatchSize
	}
	return d.repo.FindDue(ctx, d.window(now), limit)
}

// Claim takes the lease on one event. ErrAlreadyClaimed means another worker got there first.
func (d *Dispatcher) Claim(ctx context.Context, eventID uuid.UUID, workerID string, now time.Time) (*ClaimedEvent, error) {
	event, err := d.repo.Claim(ctx, eventID, workerID, d.window(now))
	if err != nil {
		return nil, err
	}
	if event.ClaimToken == nil {
		return nil, ErrLeaseLost
	}
	return &ClaimedEvent{Event: *event, Token: *event.ClaimToken}, nil
}

// Tick runs one claim/dispatch pass. Per-event failures are logged and counted; only a failed
// due-event lookup is returned as an error.
func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	started := time.Now()
	defer func() { d.metrics.ObserveTick(time.Since(started)) }()

	now := d.now().UTC()
	ids, err := d.FindDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("find due cadence events: %w", err)
	}

	var claimed, conflicts, failed atomic.Int64
	var group errgroup.Group
	group.SetLimit(d.cfg.Concurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			ev, err := d.Claim(ctx, id, d.workerID, now)
			if errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrLeaseLost) {
				conflicts.Add(1)
				d.metrics.IncClaimConflict()
				return nil
			}
			if err != nil {
				failed.Add(1)
				d.logg.Error(d.logg.WithField(ctx, "event_id", id.String()), "claim cadence event", err)
				return nil
			}
			claimed.Add(1)
			if _, err := d.Dispatch(ctx, ev); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()

	result := TickResult{
		Due:       len(ids),
		Claimed:   int(claimed.Load()),
		Conflicts: int(conflicts.Load()),
		Failed:    int(failed.Load()),
	}
	if result.Due > 0 {
		d.logg.Info(d.logg.WithFields(ctx, map[string]any{
			"due":       result.Due,
			"claimed":   result.Claimed,
			"conflicts": result.Conflicts,
			"failed":    result.Failed,
		}), "cadence tick completed")
	}
	return result, nil
}

// Dispatch runs the policy checks and the transport for a claimed event and records the outcome.
// The returned outcome is one of the metrics.Outcome* values.
func (d *Dispatcher) Dispatch(ctx context.Context, claimed *ClaimedEvent) (string, error) {
	event := claimed.Event
	ctx = d.logg.WithCadenceEvent(ctx, event.RunID.String(), event.ID.String(), string(event.Kind))
	ctx = d.logg.WithOrganizationID(ctx, event.OrganizationID.String())

	outcome, err := d.dispatch(ctx, claimed)
	switch {
	case errors.Is(err, ErrLeaseLost):
		outcome, err = metrics.OutcomeLeaseLost, nil
		d.logg.Warn(ctx, "cadence event lease lost during dispatch")
	case err != nil:
		outcome = metrics.OutcomeError
		d.logg.Error(ctx, "dispatch cadence event", err)
	}
	d.metrics.IncDispatch(string(event.Kind), outcome)
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, claimed *ClaimedEvent) (string, error) {
	event := claimed.Event

	target, err := d.repo.LoadTarget(ctx, event)
	if err != nil {
		return metrics.OutcomeError, fmt.Errorf("load dispatch target: %w", err)
	}

	if target.Run.Status != enums.CadenceRunActive {
		return d.skip(ctx, claimed, enums.ReasonRunCancelled)
	}

	if !target.Proposal.Status.AwaitingResponse() {
		outcome, err := d.skip(ctx, claimed, enums.ReasonProposalClosed)
		if err != nil {
			return outcome, err
		}
		reason, ok := ReasonForProposalStatus(target.Proposal.Status)
		if !ok {
			reason = enums.ReasonProposalClosed
		}
		d.cancelRun(ctx, event.RunID, reason)
		return outcome, nil
	}

	suppressed, err := d.suppression.IsSuppressed(ctx, event.OrganizationID, target.Contact.Email)
	if err != nil {
		return metrics.OutcomeError, fmt.Errorf("check suppression: %w", err)
	}
	if suppressed {
		outcome, err := d.skip(ctx, claimed, enums.ReasonSuppressed)
		if err != nil {
			return outcome, err
		}
		d.cancelRun(ctx, event.RunID, enums.ReasonSuppressed)
		return outcome, nil
	}

	decision, err := d.quota.CanSend(ctx, event.OrganizationID)
	if err != nil {
		return metrics.OutcomeError, fmt.Errorf("check quota: %w", err)
	}
	if !decision.Allowed {
		return d.skip(ctx, claimed, enums.ReasonQuotaExceeded)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.TransportTimeout)
	sendErr := d.transport.Send(sendCtx, transport.Delivery{
		Event:    event,
		Proposal: target.Proposal,
		Contact:  target.Contact,
	})
	cancel()

	if sendErr != nil {
		message := pkgerrors.Truncate(sendErr.Error(), maxErrorLength)
		if transport.IsPermanent(sendErr) || event.AttemptCount >= d.cfg.MaxAttempts {
			d.logg.Warn(d.logg.WithField(ctx, "error", message), "cadence event failed permanently")
			return metrics.OutcomeFailedPermanent, d.resolve(ctx, claimed, Resolution{
				Status:    enums.CadenceEventFailedPermanent,
				LastError: &message,
			})
		}
		if err := d.repo.RecordAttemptError(ctx, event.ID, claimed.Token, message); err != nil {
			return metrics.OutcomeError, err
		}
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"error":   message,
			"attempt": event.AttemptCount,
		}), "cadence transport failed, will retry after lease")
		return metrics.OutcomeRetry, nil
	}

	return metrics.OutcomeSent, d.resolve(ctx, claimed, Resolution{Status: enums.CadenceEventSent})
}

func (d *Dispatcher) skip(ctx context.Context, claimed *ClaimedEvent, reason enums.CadenceReason) (string, error) {
	d.logg.Info(d.logg.WithField(ctx, "reason", reason), "cadence event skipped")
	return metrics.OutcomeSkipped, d.resolve(ctx, claimed, Resolution{
		Status:     enums.CadenceEventSkipped,
		SkipReason: &reason,
	})
}

// resolve writes the terminal status, the quota increment for sends, the resolved event and
// run completion in one transaction.
func (d *Dispatcher) resolve(ctx context.Context, claimed *ClaimedEvent, res Resolution) error {
	event := claimed.Event
	res.ProcessedAt = d.now().UTC()

	var completed bool
	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := d.repo.Resolve(ctx, tx, event.ID, claimed.Token, res); err != nil {
			return err
		}
		if res.Status == enums.CadenceEventSent {
			if err := d.quota.RecordSent(ctx, tx, event.OrganizationID); err != nil {
				return err
			}
		}
		if err := d.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCadenceEventResolved,
			AggregateType: enums.AggregateCadenceEvent,
			AggregateID:   event.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorKindWorker, ID: d.workerID},
			OccurredAt:    res.ProcessedAt,
			Data: payloads.CadenceEventResolvedEvent{
				EventID:        event.ID,
				RunID:          event.RunID,
				OrganizationID: event.OrganizationID,
				ProposalID:     event.ProposalID,
				Kind:           event.Kind,
				Status:         res.Status,
				Reason:         res.SkipReason,
				AttemptCount:   event.AttemptCount,
				Error:          res.LastError,
				ProcessedAt:    res.ProcessedAt,
			},
		}); err != nil {
			return err
		}
		var err error
		completed, err = d.repo.CompleteRunIfDrained(ctx, tx, event.RunID, res.ProcessedAt)
		return err
	})
	if err != nil {
		return err
	}
	if completed {
		d.metrics.IncRun(metrics.RunActionCompleted)
		d.logg.Info(ctx, "cadence run completed")
	}
	return nil
}

func (d *Dispatcher) cancelRun(ctx context.Context, runID uuid.UUID, reason enums.CadenceReason) {
	if _, err := d.canceller.CancelRun(ctx, runID, reason); err != nil {
		d.logg.Error(d.logg.WithField(ctx, "reason", reason), "cancel cadence run after skip", err)
	}
}
