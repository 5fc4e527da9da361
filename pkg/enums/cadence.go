package enums

import "fmt"

// CadenceEventKind is the closed step vocabulary of a follow-up run.
type CadenceEventKind string

const (
	CadenceKindEmailD1           CadenceEventKind = "email_d1"
	CadenceKindEmailD3           CadenceEventKind = "email_d3"
	CadenceKindCallD7            CadenceEventKind = "call_d7"
	CadenceKindEmailD14SoftClose CadenceEventKind = "email_d14_softclose"
)

var validCadenceEventKinds = []CadenceEventKind{
	CadenceKindEmailD1,
	CadenceKindEmailD3,
	CadenceKindCallD7,
	CadenceKindEmailD14SoftClose,
}

// IsValid reports whether the value is a known step kind.
func (k CadenceEventKind) IsValid() bool {
	for _, candidate := range validCadenceEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsEmail reports whether the step is delivered as an email.
func (k CadenceEventKind) IsEmail() bool {
	return k == CadenceKindEmailD1 || k == CadenceKindEmailD3 || k == CadenceKindEmailD14SoftClose
}

// ParseCadenceEventKind converts raw input into CadenceEventKind.
func ParseCadenceEventKind(value string) (CadenceEventKind, error) {
	for _, candidate := range validCadenceEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cadence event kind %q", value)
}

// CadenceEventStatus tracks an event through claim and dispatch.
type CadenceEventStatus string

const (
	CadenceEventScheduled       CadenceEventStatus = "scheduled"
	CadenceEventClaimed         CadenceEventStatus = "claimed"
	CadenceEventSent            CadenceEventStatus = "sent"
	CadenceEventFailedPermanent CadenceEventStatus = "failed_permanent"
	CadenceEventSkipped         CadenceEventStatus = "skipped"
	CadenceEventCancelled       CadenceEventStatus = "cancelled"
)

var validCadenceEventStatuses = []CadenceEventStatus{
	CadenceEventScheduled,
	CadenceEventClaimed,
	CadenceEventSent,
	CadenceEventFailedPermanent,
	CadenceEventSkipped,
	CadenceEventCancelled,
}

// IsValid reports whether the value is a known event status.
func (s CadenceEventStatus) IsValid() bool {
	for _, candidate := range validCadenceEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s CadenceEventStatus) IsTerminal() bool {
	switch s {
	case CadenceEventSent, CadenceEventFailedPermanent, CadenceEventSkipped, CadenceEventCancelled:
		return true
	}
	return false
}

// ParseCadenceEventStatus converts raw input into CadenceEventStatus.
func ParseCadenceEventStatus(value string) (CadenceEventStatus, error) {
	for _, candidate := range validCadenceEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cadence event status %q", value)
}

// CadenceRunStatus tracks the lifecycle of a run as a whole.
type CadenceRunStatus string

const (
	CadenceRunActive    CadenceRunStatus = "active"
	CadenceRunCompleted CadenceRunStatus = "completed"
	CadenceRunCancelled CadenceRunStatus = "cancelled"
)

var validCadenceRunStatuses = []CadenceRunStatus{
	CadenceRunActive,
	CadenceRunCompleted,
	CadenceRunCancelled,
}

// IsValid reports whether the value is a known run status.
func (s CadenceRunStatus) IsValid() bool {
	for _, candidate := range validCadenceRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CadenceReason explains why an event was skipped or cancelled.
type CadenceReason string

const (
	ReasonSuppressed      CadenceReason = "suppressed"
	ReasonQuotaExceeded   CadenceReason = "quota_exceeded"
	ReasonProposalEngaged CadenceReason = "proposal_engaged"
	ReasonProposalClosed  CadenceReason = "proposal_closed"
	ReasonReplyReceived   CadenceReason = "reply_received"
	ReasonManual          CadenceReason = "manual"
	ReasonRunCancelled    CadenceReason = "run_cancelled"
)

var validCadenceReasons = []CadenceReason{
	ReasonSuppressed,
	ReasonQuotaExceeded,
	ReasonProposalEngaged,
	ReasonProposalClosed,
	ReasonReplyReceived,
	ReasonManual,
	ReasonRunCancelled,
}

// IsValid reports whether the value is a known reason.
func (r CadenceReason) IsValid() bool {
	for _, candidate := range validCadenceReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseCadenceReason converts raw input into CadenceReason.
func ParseCadenceReason(value string) (CadenceReason, error) {
	for _, candidate := range validCadenceReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cadence reason %q", value)
}
