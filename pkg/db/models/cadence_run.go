package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// CadenceRun groups the events materialized for one proposal send.
// At most one run per proposal may be active; the partial unique index enforces it.
type CadenceRun struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID              `gorm:"column:organization_id;type:uuid;not null;index"`
	ProposalID     uuid.UUID              `gorm:"column:proposal_id;type:uuid;not null;uniqueIndex:ux_cadence_runs_active_proposal,where:status = 'active'"`
	Status         enums.CadenceRunStatus `gorm:"column:status;not null;default:'active'"`
	FirstSentAt    time.Time              `gorm:"column:first_sent_at;not null"`
	CancelReason   *enums.CadenceReason   `gorm:"column:cancel_reason"`
	CancelledAt    *time.Time             `gorm:"column:cancelled_at"`
	CompletedAt    *time.Time             `gorm:"column:completed_at"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (CadenceRun) TableName() string { return "cadence_runs" }

func (r *CadenceRun) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
