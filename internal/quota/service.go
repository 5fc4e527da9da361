package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	pkgerrors "github.com/pitchtrail/pitchtrail-backend/pkg/errors"
)

const (
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonNoActivePlan  = "no_active_plan"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason,omitempty"`
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// Remaining is the number of sends left in the period.
func (d Decision) Remaining() int64 {
	if d.Used >= d.Limit {
		return 0
	}
	return d.Limit - d.Used
}

type ServiceParams struct {
	Repo                *Repository
	DefaultMonthlyLimit int
	Now                 func() time.Time
}

// Service enforces per-organization monthly send limits.
//
// CanSend and RecordSent are not atomic together: two workers can both pass CanSend at
// limit-1 and both send, overshooting by at most the dispatcher concurrency. RecordSent
// itself never loses an increment.
type Service struct {
	repo         *Repository
	defaultLimit int64
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("quota repository required")
	}
	if params.DefaultMonthlyLimit < 0 {
		return nil, errors.New("default monthly limit must not be negative")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: params.Repo, defaultLimit: int64(params.DefaultMonthlyLimit), now: now}, nil
}

// CanSend reports whether the organization may send one more follow-up in the current period.
func (s *Service) CanSend(ctx context.Context, organizationID uuid.UUID) (Decision, error) {
	if organizationID == uuid.Nil {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, "organization id required")
	}
	period, current, err := s.resolve(ctx, nil, organizationID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve quota period")
	}

	// A window that is about to be split still holds the sends that carry over.
	var used int64
	if current != nil {
		used = current.SentCount
	}

	decision := Decision{
		Allowed:     true,
		Limit:       period.Limit,
		Used:        used,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}
	switch {
	case period.Limit <= 0:
		decision.Allowed = false
		decision.Reason = ReasonNoActivePlan
	case used >= period.Limit:
		decision.Allowed = false
		decision.Reason = ReasonQuotaExceeded
	}
	return decision, nil
}

// RecordSent counts one successful send against the current period. Pass the dispatch
// transaction so the increment commits with the sent resolution.
func (s *Service) RecordSent(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID) error {
	period, current, err := s.resolve(ctx, tx, organizationID)
	if err != nil {
		return err
	}
	var carried int64
	if current != nil && current.PeriodStart.Before(period.Start) {
		carried = current.SentCount
		if err := s.repo.ClosePeriod(ctx, tx, organizationID, current.PeriodStart, period.Start); err != nil {
			return fmt.Errorf("close usage period: %w", err)
		}
	}
	if err := s.repo.EnsurePeriod(ctx, tx, organizationID, period, carried); err != nil {
		return fmt.Errorf("ensure usage period: %w", err)
	}
	affected, err := s.repo.Increment(ctx, tx, organizationID, period.Start)
	if err != nil {
		return fmt.Errorf("increment usage counter: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("usage counter missing for period %s", period.Start.Format(time.RFC3339))
	}
	return nil
}

// resolve returns the counter window for now and the row currently covering it.
// Windows never overlap: a plan period starting inside the current row splits it
// at the plan start, and one starting before the current row adopts that row.
func (s *Service) resolve(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID) (PlanPeriod, *models.UsageCounter, error) {
	now := s.now().UTC()
	period, err := s.period(ctx, tx, organizationID, now)
	if err != nil {
		return PlanPeriod{}, nil, err
	}
	current, err := s.repo.CoveringCounter(ctx, tx, organizationID, now)
	if err != nil {
		return PlanPeriod{}, nil, err
	}
	if current == nil {
		return period, nil, nil
	}
	current.PeriodStart = current.PeriodStart.UTC()
	current.PeriodEnd = current.PeriodEnd.UTC()
	if !current.PeriodStart.Before(period.Start) {
		period.Start, period.End = current.PeriodStart, current.PeriodEnd
	}
	return period, current, nil
}

func (s *Service) period(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, now time.Time) (PlanPeriod, error) {
	plan, err := s.repo.ActivePlanPeriod(ctx, tx, organizationID, now)
	if err != nil {
		return PlanPeriod{}, err
	}
	if plan != nil {
		return *plan, nil
	}
	start, end := CalendarMonth(now)
	return PlanPeriod{Limit: s.defaultLimit, Start: start, End: end}, nil
}

// CalendarMonth returns the UTC month containing t as [start, end).
func CalendarMonth(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
