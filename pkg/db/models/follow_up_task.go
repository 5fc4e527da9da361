package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const FollowUpTaskStatusOpen = "open"

// FollowUpTask is a call-script task produced by a call step. One task per cadence event.
type FollowUpTask struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"column:organization_id;type:uuid;not null;index"`
	ProposalID     uuid.UUID `gorm:"column:proposal_id;type:uuid;not null"`
	ContactID      uuid.UUID `gorm:"column:contact_id;type:uuid;not null"`
	EventID        uuid.UUID `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_follow_up_tasks_event"`
	Title          string    `gorm:"column:title;not null"`
	Script         string    `gorm:"column:script;not null"`
	Status         string    `gorm:"column:status;not null;default:'open'"`
	DueAt          time.Time `gorm:"column:due_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (FollowUpTask) TableName() string { return "follow_up_tasks" }

func (t *FollowUpTask) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
