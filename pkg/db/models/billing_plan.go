package models

import (
	"time"

	"github.com/google/uuid"
)

// BillingPlan captures the local metadata for a subscription plan.
type BillingPlan struct {
	ID                   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name                 string    `gorm:"column:name;not null"`
	MonthlyFollowUpLimit int64     `gorm:"column:monthly_follow_up_limit;not null;default:0"`
	IsDefault            bool      `gorm:"column:is_default;not null;default:false"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (BillingPlan) TableName() string { return "billing_plans" }
