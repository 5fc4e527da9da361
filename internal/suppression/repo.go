package suppression

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pitchtrail/pitchtrail-backend/internal/repo"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
)

// Repository persists suppression entries. Emails must be normalized by the caller.
type Repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(db)}
}

func (r *Repository) Exists(ctx context.Context, organizationID uuid.UUID, email string) (bool, error) {
	var count int64
	err := r.base.DB(ctx).
		Model(&models.SuppressionEntry{}).
		Where("organization_id = ? AND email = ?", organizationID, email).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) Get(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, email string) (*models.SuppressionEntry, error) {
	return repo.TakeOptional[models.SuppressionEntry](r.base.Tx(ctx, tx).
		Where("organization_id = ? AND email = ?", organizationID, email))
}

// Upsert inserts the entry or refreshes reason and source on an existing one.
func (r *Repository) Upsert(ctx context.Context, tx *gorm.DB, entry *models.SuppressionEntry, now time.Time) error {
	return r.base.Tx(ctx, tx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "organization_id"}, {Name: "email"}},
			DoUpdates: clause.Assignments(map[string]any{
				"reason":     entry.Reason,
				"source":     entry.Source,
				"updated_at": now.UTC(),
			}),
		}).
		Create(entry).Error
}
