package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageCounter counts successful follow-up sends for one organization period.
type UsageCounter struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"column:organization_id;type:uuid;not null;uniqueIndex:ux_usage_counters_org_period,priority:1"`
	PeriodStart    time.Time `gorm:"column:period_start;not null;uniqueIndex:ux_usage_counters_org_period,priority:2"`
	PeriodEnd      time.Time `gorm:"column:period_end;not null"`
	SentCount      int64     `gorm:"column:sent_count;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UsageCounter) TableName() string { return "usage_counters" }

func (u *UsageCounter) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
