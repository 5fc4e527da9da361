package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// CadenceRunStartedEvent is emitted once a run and its events are materialized.
type CadenceRunStartedEvent struct {
	RunID          uuid.UUID     `json:"run_id"`
	OrganizationID uuid.UUID     `json:"organization_id"`
	ProposalID     uuid.UUID     `json:"proposal_id"`
	FirstSentAt    time.Time     `json:"first_sent_at"`
	Steps          []CadenceStep `json:"steps"`
}

// CadenceStep describes one scheduled event of a run.
type CadenceStep struct {
	EventID      uuid.UUID              `json:"event_id"`
	Kind         enums.CadenceEventKind `json:"kind"`
	ScheduledFor time.Time              `json:"scheduled_for"`
}

// CadenceRunCancelledEvent is emitted when a run stops before all steps fire.
type CadenceRunCancelledEvent struct {
	RunID          uuid.UUID           `json:"run_id"`
	OrganizationID uuid.UUID           `json:"organization_id"`
	ProposalID     uuid.UUID           `json:"proposal_id"`
	Reason         enums.CadenceReason `json:"reason"`
	Cancelled      int64               `json:"cancelled"`
}

// CadenceEventResolvedEvent reports the terminal outcome of a dispatched event.
type CadenceEventResolvedEvent struct {
	EventID        uuid.UUID                `json:"event_id"`
	RunID          uuid.UUID                `json:"run_id"`
	OrganizationID uuid.UUID                `json:"organization_id"`
	ProposalID     uuid.UUID                `json:"proposal_id"`
	Kind           enums.CadenceEventKind   `json:"kind"`
	Status         enums.CadenceEventStatus `json:"status"`
	Reason         *enums.CadenceReason     `json:"reason,omitempty"`
	AttemptCount   int                      `json:"attempt_count"`
	Error          *string                  `json:"error,omitempty"`
	ProcessedAt    time.Time                `json:"processed_at"`
}

// ContactOptedOutEvent carries an opt-out, either recorded here or received from an unsubscribe surface.
type ContactOptedOutEvent struct {
	OrganizationID uuid.UUID               `json:"organization_id"`
	Email          string                  `json:"email"`
	Reason         enums.SuppressionReason `json:"reason"`
	Source         string                  `json:"source,omitempty"`
	Cancelled      int64                   `json:"cancelled"`
}

// ProposalSentEvent is published by the proposal service when a proposal is marked sent.
type ProposalSentEvent struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	ProposalID     uuid.UUID `json:"proposal_id"`
	SentAt         time.Time `json:"sent_at"`
}

// ProposalStatusChangedEvent is published on every proposal status transition.
type ProposalStatusChangedEvent struct {
	OrganizationID uuid.UUID            `json:"organization_id"`
	ProposalID     uuid.UUID            `json:"proposal_id"`
	Status         enums.ProposalStatus `json:"status"`
	PreviousStatus enums.ProposalStatus `json:"previous_status,omitempty"`
}

// ProposalRepliedEvent is published when an inbound reply is matched to a proposal.
type ProposalRepliedEvent struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	ProposalID     uuid.UUID `json:"proposal_id"`
	ReceivedAt     time.Time `json:"received_at"`
}
