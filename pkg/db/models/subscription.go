package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// Subscription persists the billing state per organization. Read-only to the cadence engine.
type Subscription struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID     uuid.UUID                `gorm:"column:organization_id;type:uuid;not null;index"`
	BillingPlanID      uuid.UUID                `gorm:"column:billing_plan_id;type:uuid;not null"`
	Status             enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	CurrentPeriodStart time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd   time.Time                `gorm:"column:current_period_end;not null"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`

	BillingPlan *BillingPlan `gorm:"foreignKey:BillingPlanID;references:ID"`
}

func (Subscription) TableName() string { return "subscriptions" }
