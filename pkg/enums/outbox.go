package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateCadenceRun   OutboxAggregateType = "cadence_run"
	AggregateCadenceEvent OutboxAggregateType = "cadence_event"
	AggregateContact      OutboxAggregateType = "contact"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCadenceRun,
	AggregateCadenceEvent,
	AggregateContact,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events and the
// event_type attribute of messages on the wire.
type OutboxEventType string

const (
	EventCadenceRunStarted    OutboxEventType = "cadence_run_started"
	EventCadenceRunCancelled  OutboxEventType = "cadence_run_cancelled"
	EventCadenceEventResolved OutboxEventType = "cadence_event_resolved"
	EventContactOptedOut      OutboxEventType = "contact_opted_out"

	// Inbound proposal lifecycle events published by the surrounding application.
	EventProposalSent          OutboxEventType = "proposal_sent"
	EventProposalStatusChanged OutboxEventType = "proposal_status_changed"
	EventProposalReplied       OutboxEventType = "proposal_replied"
)

var validOutboxEventTypes = []OutboxEventType{
	EventCadenceRunStarted,
	EventCadenceRunCancelled,
	EventCadenceEventResolved,
	EventContactOptedOut,
	EventProposalSent,
	EventProposalStatusChanged,
	EventProposalReplied,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
