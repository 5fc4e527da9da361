package proposals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/internal/cadence"
	"github.com/pitchtrail/pitchtrail-backend/internal/suppression"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	pkgerrors "github.com/pitchtrail/pitchtrail-backend/pkg/errors"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/idempotency"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/payloads"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/registry"
)

const consumerName = "cadence-proposal-events"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type idempotencyChecker interface {
	Reserve(ctx context.Context, consumer string, eventID uuid.UUID) (*idempotency.Reservation, error)
}

type runStarter interface {
	StartRun(ctx context.Context, input cadence.StartRunInput) (cadence.StartRunResult, error)
}

type runCanceller interface {
	OnProposalStatusChanged(ctx context.Context, proposalID uuid.UUID, status enums.ProposalStatus) (int64, error)
	OnReply(ctx context.Context, proposalID uuid.UUID) (int64, error)
}

type optOutApplier interface {
	ApplyOptOut(ctx context.Context, input suppression.OptOutInput) (suppression.OptOutResult, error)
}

type Params struct {
	Subscription receiver
	Idempotency  idempotencyChecker
	Builder      runStarter
	Canceller    runCanceller
	OptOuts      optOutApplier
	Logger       *logger.Logger
}

// Consumer turns proposal lifecycle events from the surrounding application into cadence actions.
type Consumer struct {
	subscription receiver
	idempotency  idempotencyChecker
	builder      runStarter
	canceller    runCanceller
	optOuts      optOutApplier
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

func NewConsumer(params Params) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, fmt.Errorf("proposal events subscription required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Builder == nil {
		return nil, fmt.Errorf("run builder required")
	}
	if params.Canceller == nil {
		return nil, fmt.Errorf("run canceller required")
	}
	if params.OptOuts == nil {
		return nil, fmt.Errorf("opt-out service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		builder:      params.Builder,
		canceller:    params.Canceller,
		optOuts:      params.OptOuts,
		decoders:     newDecoders(),
		logg:         params.Logger,
	}, nil
}

func newDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventProposalSent, 1, registry.JSONDecoder(func() interface{} { return &payloads.ProposalSentEvent{} }))
	decoders.Register(enums.EventProposalStatusChanged, 1, registry.JSONDecoder(func() interface{} { return &payloads.ProposalStatusChangedEvent{} }))
	decoders.Register(enums.EventProposalReplied, 1, registry.JSONDecoder(func() interface{} { return &payloads.ProposalRepliedEvent{} }))
	decoders.Register(enums.EventContactOptedOut, 1, registry.JSONDecoder(func() interface{} { return &payloads.ContactOptedOutEvent{} }))
	return decoders
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	switch eventType {
	case enums.EventProposalSent, enums.EventProposalStatusChanged, enums.EventProposalReplied, enums.EventContactOptedOut:
	default:
		c.logg.Debug(logCtx, "skipping event not handled by cadence")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	version := envelope.Version
	if version == 0 {
		version = 1
	}
	payload, err := c.decoders.Decode(eventType, version, envelope.Data)
	if errors.Is(err, registry.ErrNoDecoder) {
		c.logg.Warn(c.logg.WithField(logCtx, "version", version), "skipping unsupported payload version")
		return processResult{ack: true}
	}
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return processResult{ack: true}
	}

	reservation, err := c.idempotency.Reserve(ctx, consumerName, eventID)
	if errors.Is(err, idempotency.ErrAlreadyProcessed) {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}

	if err := c.handle(logCtx, payload); err != nil {
		if isPoison(err) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping unprocessable proposal event")
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "proposal event handling failed", err)
		if relErr := reservation.Release(ctx); relErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency key", relErr)
		}
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) handle(ctx context.Context, payload interface{}) error {
	switch event := payload.(type) {
	case *payloads.ProposalSentEvent:
		result, err := c.builder.StartRun(ctx, cadence.StartRunInput{
			OrganizationID: event.OrganizationID,
			ProposalID:     event.ProposalID,
			FirstSentAt:    event.SentAt,
		})
		if err != nil {
			return err
		}
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"run_id":         result.RunID.String(),
			"already_exists": result.AlreadyExists,
		}), "proposal sent handled")
		return nil
	case *payloads.ProposalStatusChangedEvent:
		cancelled, err := c.canceller.OnProposalStatusChanged(ctx, event.ProposalID, event.Status)
		if err != nil {
			return err
		}
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"status":    event.Status,
			"cancelled": cancelled,
		}), "proposal status change handled")
		return nil
	case *payloads.ProposalRepliedEvent:
		_, err := c.canceller.OnReply(ctx, event.ProposalID)
		return err
	case *payloads.ContactOptedOutEvent:
		_, err := c.optOuts.ApplyOptOut(ctx, suppression.OptOutInput{
			OrganizationID: event.OrganizationID,
			Email:          event.Email,
			Reason:         event.Reason,
			Source:         event.Source,
		})
		return err
	default:
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unexpected payload %T", payload)
	}
}

// isPoison reports errors a redelivery cannot fix, such as a missing proposal
// or a run already in a terminal state.
func isPoison(err error) bool {
	return !pkgerrors.Retryable(err)
}
