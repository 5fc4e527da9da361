package cadence

import (
	"time"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// Step is one entry of the fixed follow-up sequence.
type Step struct {
	Kind   enums.CadenceEventKind
	Offset time.Duration
}

var steps = []Step{
	{Kind: enums.CadenceKindEmailD1, Offset: 24 * time.Hour},
	{Kind: enums.CadenceKindEmailD3, Offset: 72 * time.Hour},
	{Kind: enums.CadenceKindCallD7, Offset: 168 * time.Hour},
	{Kind: enums.CadenceKindEmailD14SoftClose, Offset: 336 * time.Hour},
}

// Steps returns a copy of the cadence sequence in firing order.
func Steps() []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// ScheduledStep is a step resolved against a first-sent timestamp.
type ScheduledStep struct {
	Kind         enums.CadenceEventKind
	ScheduledFor time.Time
}

// Schedule resolves every step relative to firstSentAt, in UTC.
func Schedule(firstSentAt time.Time) []ScheduledStep {
	base := firstSentAt.UTC()
	out := make([]ScheduledStep, 0, len(steps))
	for _, step := range steps {
		out = append(out, ScheduledStep{Kind: step.Kind, ScheduledFor: base.Add(step.Offset)})
	}
	return out
}
