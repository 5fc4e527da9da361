package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// CadenceEvent is one timed follow-up action inside a run.
type CadenceEvent struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID                `gorm:"column:organization_id;type:uuid;not null"`
	ProposalID     uuid.UUID                `gorm:"column:proposal_id;type:uuid;not null;index"`
	RunID          uuid.UUID                `gorm:"column:run_id;type:uuid;not null;uniqueIndex:ux_cadence_events_run_kind,priority:1"`
	Kind           enums.CadenceEventKind   `gorm:"column:kind;not null;uniqueIndex:ux_cadence_events_run_kind,priority:2"`
	Status         enums.CadenceEventStatus `gorm:"column:status;not null;default:'scheduled';index:idx_cadence_events_due,priority:1"`
	ScheduledFor   time.Time                `gorm:"column:scheduled_for;not null;index:idx_cadence_events_due,priority:2"`
	ClaimedAt      *time.Time               `gorm:"column:claimed_at"`
	ClaimedBy      *string                  `gorm:"column:claimed_by"`
	ClaimToken     *uuid.UUID               `gorm:"column:claim_token;type:uuid"`
	AttemptCount   int                      `gorm:"column:attempt_count;not null;default:0"`
	ProcessedAt    *time.Time               `gorm:"column:processed_at"`
	CancelReason   *enums.CadenceReason     `gorm:"column:cancel_reason"`
	SkipReason     *enums.CadenceReason     `gorm:"column:skip_reason"`
	LastError      *string                  `gorm:"column:last_error"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (CadenceEvent) TableName() string { return "cadence_events" }

func (e *CadenceEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
