package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Contact is the recipient of a proposal.
type Contact struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"column:organization_id;type:uuid;not null;index:idx_contacts_org_email,priority:1"`
	Email          string    `gorm:"column:email;not null;index:idx_contacts_org_email,priority:2"`
	FirstName      string    `gorm:"column:first_name;not null;default:''"`
	LastName       string    `gorm:"column:last_name;not null;default:''"`
	Company        *string   `gorm:"column:company"`
	Phone          *string   `gorm:"column:phone"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Contact) TableName() string { return "contacts" }

func (c *Contact) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// DisplayName returns the best available name for greetings.
func (c Contact) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Email
	}
	return name
}
