package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/internal/repo"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
)

// Repository maintains the follow-up activity columns derived onto proposals.
type Repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(db)}
}

// RecordFollowUp bumps the follow-up count and moves last_follow_up_at forward, never back.
func (r *Repository) RecordFollowUp(ctx context.Context, proposalID uuid.UUID, sentAt time.Time) (bool, error) {
	sentAt = sentAt.UTC()
	result := r.base.DB(ctx).
		Model(&models.Proposal{}).
		Where("id = ?", proposalID).
		Updates(map[string]any{
			"follow_up_count":   gorm.Expr("follow_up_count + 1"),
			"last_follow_up_at": gorm.Expr("CASE WHEN last_follow_up_at IS NULL OR last_follow_up_at < ? THEN ? ELSE last_follow_up_at END", sentAt, sentAt),
		})
	return result.RowsAffected > 0, result.Error
}
