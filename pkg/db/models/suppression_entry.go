package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// SuppressionEntry blocks outreach to an address within an organization.
// Email is stored normalized (trimmed, lower-cased).
type SuppressionEntry struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID               `gorm:"column:organization_id;type:uuid;not null;uniqueIndex:ux_suppression_entries_org_email,priority:1"`
	Email          string                  `gorm:"column:email;not null;uniqueIndex:ux_suppression_entries_org_email,priority:2"`
	Reason         enums.SuppressionReason `gorm:"column:reason;not null"`
	Source         string                  `gorm:"column:source;not null;default:''"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (SuppressionEntry) TableName() string { return "suppression_entries" }

func (s *SuppressionEntry) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
