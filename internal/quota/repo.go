package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pitchtrail/pitchtrail-backend/internal/repo"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// PlanPeriod is the limit and window granted by an organization's subscription.
type PlanPeriod struct {
	Limit int64
	Start time.Time
	End   time.Time
}

// Repository reads plan limits and maintains usage_counters.
type Repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(db)}
}

// ActivePlanPeriod returns the subscription period covering now, or nil when none grants quota.
func (r *Repository) ActivePlanPeriod(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, now time.Time) (*PlanPeriod, error) {
	statuses := []string{
		string(enums.SubscriptionStatusActive),
		string(enums.SubscriptionStatusTrialing),
		string(enums.SubscriptionStatusPastDue),
	}
	sub, err := repo.TakeOptional[models.Subscription](r.base.Tx(ctx, tx).
		Preload("BillingPlan").
		Where("organization_id = ? AND status IN ?", organizationID, statuses).
		Where("current_period_start <= ? AND current_period_end > ?", now, now).
		Order("current_period_end DESC"))
	if err != nil || sub == nil {
		return nil, err
	}
	if sub.BillingPlan == nil {
		return nil, nil
	}
	return &PlanPeriod{
		Limit: sub.BillingPlan.MonthlyFollowUpLimit,
		Start: sub.CurrentPeriodStart.UTC(),
		End:   sub.CurrentPeriodEnd.UTC(),
	}, nil
}

// CoveringCounter returns the counter row whose window contains now, or nil.
func (r *Repository) CoveringCounter(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, now time.Time) (*models.UsageCounter, error) {
	return repo.TakeOptional[models.UsageCounter](r.base.Tx(ctx, tx).
		Where("organization_id = ? AND period_start <= ? AND period_end > ?", organizationID, now, now).
		Order("period_start DESC"))
}

// ClosePeriod ends the counter starting at periodStart at end, so a newer window can begin there.
func (r *Repository) ClosePeriod(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, periodStart, end time.Time) error {
	return r.base.Tx(ctx, tx).
		Model(&models.UsageCounter{}).
		Where("organization_id = ? AND period_start = ? AND period_end > ?", organizationID, periodStart, end).
		Update("period_end", end).Error
}

// EnsurePeriod creates the counter row for the period if it does not exist yet,
// seeded with sends carried over from the window it replaces.
func (r *Repository) EnsurePeriod(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, period PlanPeriod, carried int64) error {
	counter := models.UsageCounter{
		OrganizationID: organizationID,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		SentCount:      carried,
	}
	return r.base.Tx(ctx, tx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(&counter).Error
}

// Increment bumps sent_count in place; no read-modify-write.
func (r *Repository) Increment(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, periodStart time.Time) (int64, error) {
	result := r.base.Tx(ctx, tx).
		Model(&models.UsageCounter{}).
		Where("organization_id = ? AND period_start = ?", organizationID, periodStart).
		Update("sent_count", gorm.Expr("sent_count + 1"))
	return result.RowsAffected, result.Error
}

// DeleteEndedBefore drops counters whose period closed before cutoff.
func (r *Repository) DeleteEndedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	result := r.base.Tx(ctx, tx).
		Where("period_end < ?", cutoff.UTC()).
		Delete(&models.UsageCounter{})
	return result.RowsAffected, result.Error
}
