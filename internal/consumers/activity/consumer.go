package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/idempotency"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/payloads"
)

const consumerName = "cadence-activity"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type idempotencyChecker interface {
	Reserve(ctx context.Context, consumer string, eventID uuid.UUID) (*idempotency.Reservation, error)
}

type activityRecorder interface {
	RecordFollowUp(ctx context.Context, proposalID uuid.UUID, sentAt time.Time) (bool, error)
}

// Consumer keeps proposal follow-up activity in step with sent cadence events. It runs apart
// from dispatch, so a failure here never blocks or rolls back a send.
type Consumer struct {
	subscription receiver
	idempotency  idempotencyChecker
	repo         activityRecorder
	logg         *logger.Logger
}

func NewConsumer(subscription receiver, manager idempotencyChecker, repo activityRecorder, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("activity subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if repo == nil {
		return nil, fmt.Errorf("activity repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		idempotency:  manager,
		repo:         repo,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := c.process(ctx, msg); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process returns an error only when redelivery may help.
func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) error {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})
	if eventType != string(enums.EventCadenceEventResolved) {
		return nil
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return nil
	}
	var payload payloads.CadenceEventResolvedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return nil
	}
	if payload.Status != enums.CadenceEventSent {
		return nil
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return nil
	}

	reservation, err := c.idempotency.Reserve(ctx, consumerName, eventID)
	if errors.Is(err, idempotency.ErrAlreadyProcessed) {
		return nil
	}
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return err
	}

	logCtx = c.logg.WithProposalID(logCtx, payload.ProposalID.String())
	updated, err := c.repo.RecordFollowUp(ctx, payload.ProposalID, payload.ProcessedAt)
	if err != nil {
		c.logg.Error(logCtx, "failed to record follow-up activity", err)
		if relErr := reservation.Release(ctx); relErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency key", relErr)
		}
		return err
	}
	if !updated {
		c.logg.Warn(logCtx, "proposal missing for follow-up activity")
	}
	return nil
}
