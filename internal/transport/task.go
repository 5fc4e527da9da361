package transport

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
)

// TaskTransport turns a call step into a follow-up task for the proposal owner.
// Re-sending the same event is a no-op thanks to the unique event_id.
type TaskTransport struct {
	db        *gorm.DB
	templates *Templates
}

func NewTaskTransport(db *gorm.DB, templates *Templates) (*TaskTransport, error) {
	if db == nil {
		return nil, errors.New("db required")
	}
	if templates == nil {
		return nil, errors.New("templates required")
	}
	return &TaskTransport{db: db, templates: templates}, nil
}

func (t *TaskTransport) Send(ctx context.Context, delivery Delivery) error {
	msg, err := t.templates.Render(delivery)
	if err != nil {
		return Permanent(err)
	}
	task := models.FollowUpTask{
		OrganizationID: delivery.Event.OrganizationID,
		ProposalID:     delivery.Proposal.ID,
		ContactID:      delivery.Contact.ID,
		EventID:        delivery.Event.ID,
		Title:          msg.Subject,
		Script:         msg.Body,
		Status:         models.FollowUpTaskStatusOpen,
		DueAt:          delivery.Event.ScheduledFor,
	}
	err = t.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&task).Error
	if err != nil {
		return Transient(err)
	}
	return nil
}
