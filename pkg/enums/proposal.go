package enums

import "fmt"

// ProposalStatus mirrors the proposal lifecycle owned by the surrounding application.
type ProposalStatus string

const (
	ProposalStatusDraft       ProposalStatus = "draft"
	ProposalStatusSent        ProposalStatus = "sent"
	ProposalStatusViewed      ProposalStatus = "viewed"
	ProposalStatusNegotiation ProposalStatus = "negotiation"
	ProposalStatusWon         ProposalStatus = "won"
	ProposalStatusLost        ProposalStatus = "lost"
	ProposalStatusArchived    ProposalStatus = "archived"
)

var validProposalStatuses = []ProposalStatus{
	ProposalStatusDraft,
	ProposalStatusSent,
	ProposalStatusViewed,
	ProposalStatusNegotiation,
	ProposalStatusWon,
	ProposalStatusLost,
	ProposalStatusArchived,
}

// IsValid reports whether the value is a known proposal status.
func (s ProposalStatus) IsValid() bool {
	for _, candidate := range validProposalStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// AwaitingResponse reports whether follow-ups should still go out for the proposal.
func (s ProposalStatus) AwaitingResponse() bool {
	return s == ProposalStatusSent || s == ProposalStatusViewed
}

// Engaged reports whether the recipient has responded and outreach must stop.
func (s ProposalStatus) Engaged() bool {
	return s == ProposalStatusNegotiation
}

// Closed reports whether the proposal reached a final decision.
func (s ProposalStatus) Closed() bool {
	return s == ProposalStatusWon || s == ProposalStatusLost || s == ProposalStatusArchived
}

// ParseProposalStatus converts raw input into ProposalStatus.
func ParseProposalStatus(value string) (ProposalStatus, error) {
	for _, candidate := range validProposalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid proposal status %q", value)
}
