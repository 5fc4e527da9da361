package enums

import "fmt"

type SuppressionReason string

const (
	SuppressionReasonUnsubscribe SuppressionReason = "unsubscribe"
	SuppressionReasonComplaint   SuppressionReason = "complaint"
	SuppressionReasonHardBounce  SuppressionReason = "hard_bounce"
	SuppressionReasonManual      SuppressionReason = "manual"
)

var validSuppressionReasons = []SuppressionReason{
	SuppressionReasonUnsubscribe,
	SuppressionReasonComplaint,
	SuppressionReasonHardBounce,
	SuppressionReasonManual,
}

func (r SuppressionReason) IsValid() bool {
	for _, candidate := range validSuppressionReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseSuppressionReason converts raw input into SuppressionReason.
func ParseSuppressionReason(value string) (SuppressionReason, error) {
	for _, candidate := range validSuppressionReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid suppression reason %q", value)
}
