package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// Proposal is owned by the surrounding application. The engine reads status and
// contact, and maintains the derived follow-up activity columns.
type Proposal struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID            `gorm:"column:organization_id;type:uuid;not null;index"`
	ContactID      uuid.UUID            `gorm:"column:contact_id;type:uuid;not null;index"`
	Title          string               `gorm:"column:title;not null"`
	Status         enums.ProposalStatus `gorm:"column:status;not null;default:'draft'"`
	PublicURL      *string              `gorm:"column:public_url"`
	SentAt         *time.Time           `gorm:"column:sent_at"`
	LastFollowUpAt *time.Time           `gorm:"column:last_follow_up_at"`
	FollowUpCount  int                  `gorm:"column:follow_up_count;not null;default:0"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Proposal) TableName() string { return "proposals" }

func (p *Proposal) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
