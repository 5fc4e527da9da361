package cadence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/internal/repo"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

const dueCondition = "((status = ? AND scheduled_for <= ?) OR (status = ? AND claimed_at < ? AND attempt_count < ?))"

// DueWindow is the claimability predicate evaluated at Now: scheduled events whose time has come,
// plus claimed events whose lease expired before LeaseCutoff with attempts left.
type DueWindow struct {
	Now         time.Time
	LeaseCutoff time.Time
	MaxAttempts int
}

// NewDueWindow derives the window for now and the configured lease.
func NewDueWindow(now time.Time, lease time.Duration, maxAttempts int) DueWindow {
	now = now.UTC()
	return DueWindow{Now: now, LeaseCutoff: now.Add(-lease), MaxAttempts: maxAttempts}
}

func (w DueWindow) scope(db *gorm.DB) *gorm.DB {
	return db.Where(dueCondition,
		enums.CadenceEventScheduled, w.Now,
		enums.CadenceEventClaimed, w.LeaseCutoff, w.MaxAttempts,
	)
}

// Resolution is the terminal write applied to a claimed event.
type Resolution struct {
	Status      enums.CadenceEventStatus
	SkipReason  *enums.CadenceReason
	LastError   *string
	ProcessedAt time.Time
}

// Target is everything needed to dispatch one event.
type Target struct {
	Run      models.CadenceRun
	Proposal models.Proposal
	Contact  models.Contact
}

// Repository owns reads and conditional writes on cadence_runs and cadence_events.
// Methods taking a tx run inside it when non-nil.
type Repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(db)}
}

func (r *Repository) FindActiveRun(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*models.CadenceRun, error) {
	return repo.TakeOptional[models.CadenceRun](r.base.Tx(ctx, tx).
		Where("proposal_id = ? AND status = ?", proposalID, enums.CadenceRunActive))
}

func (r *Repository) GetRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*models.CadenceRun, error) {
	var run models.CadenceRun
	if err := r.base.Tx(ctx, tx).Where("id = ?", runID).Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *Repository) GetProposal(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*models.Proposal, error) {
	var proposal models.Proposal
	if err := r.base.Tx(ctx, tx).Where("id = ?", proposalID).Take(&proposal).Error; err != nil {
		return nil, err
	}
	return &proposal, nil
}

func (r *Repository) ListEvents(ctx context.Context, runID uuid.UUID) ([]models.CadenceEvent, error) {
	var events []models.CadenceEvent
	err := r.base.DB(ctx).
		Where("run_id = ?", runID).
		Order("scheduled_for ASC").
		Find(&events).Error
	return events, err
}

func (r *Repository) GetEvent(ctx context.Context, eventID uuid.UUID) (*models.CadenceEvent, error) {
	var event models.CadenceEvent
	if err := r.base.DB(ctx).Where("id = ?", eventID).Take(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *Repository) CreateRun(ctx context.Context, tx *gorm.DB, run *models.CadenceRun) error {
	return r.base.Tx(ctx, tx).Create(run).Error
}

func (r *Repository) CreateEvents(ctx context.Context, tx *gorm.DB, events []models.CadenceEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.base.Tx(ctx, tx).Create(&events).Error
}

// FindDue lists claimable event ids, oldest schedule first.
func (r *Repository) FindDue(ctx context.Context, window DueWindow, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.base.DB(ctx).
		Model(&models.CadenceEvent{}).
		Scopes(window.scope).
		Order("scheduled_for ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Claim moves a due event to claimed with a fresh token in a single conditional UPDATE.
// Zero affected rows means another worker won or the event is no longer due.
func (r *Repository) Claim(ctx context.Context, eventID uuid.UUID, workerID string, window DueWindow) (*models.CadenceEvent, error) {
	token := uuid.New()
	result := r.base.DB(ctx).
		Model(&models.CadenceEvent{}).
		Where("id = ?", eventID).
		Scopes(window.scope).
		Updates(map[string]any{
			"status":        enums.CadenceEventClaimed,
			"claimed_at":    window.Now,
			"claimed_by":    workerID,
			"claim_token":   token,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyClaimed
	}

	var event models.CadenceEvent
	err := r.base.DB(ctx).Where("id = ? AND claim_token = ?", eventID, token).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLeaseLost
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Resolve applies a terminal status, guarded by the claim token.
func (r *Repository) Resolve(ctx context.Context, tx *gorm.DB, eventID, token uuid.UUID, res Resolution) error {
	updates := map[string]any{
		"status":       res.Status,
		"processed_at": res.ProcessedAt.UTC(),
	}
	if res.SkipReason != nil {
		updates["skip_reason"] = *res.SkipReason
	}
	if res.LastError != nil {
		updates["last_error"] = *res.LastError
	}
	result := r.base.Tx(ctx, tx).
		Model(&models.CadenceEvent{}).
		Where("id = ? AND status = ? AND claim_token = ?", eventID, enums.CadenceEventClaimed, token).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RecordAttemptError keeps the event claimed and notes the failure; the lease makes it reclaimable.
func (r *Repository) RecordAttemptError(ctx context.Context, eventID, token uuid.UUID, message string) error {
	result := r.base.DB(ctx).
		Model(&models.CadenceEvent{}).
		Where("id = ? AND status = ? AND claim_token = ?", eventID, enums.CadenceEventClaimed, token).
		Update("last_error", message)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// CancelScheduledForRun cancels only scheduled events; claimed and terminal ones are left alone.
func (r *Repository) CancelScheduledForRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID, reason enums.CadenceReason, now time.Time) (int64, error) {
	result := r.base.Tx(ctx, tx).
		Model(&models.CadenceEvent{}).
		Where("run_id = ? AND status = ?", runID, enums.CadenceEventScheduled).
		Updates(map[string]any{
			"status":        enums.CadenceEventCancelled,
			"cancel_reason": reason,
			"processed_at":  now.UTC(),
		})
	return result.RowsAffected, result.Error
}

// MarkRunCancelled transitions an active run; false when it was not active.
func (r *Repository) MarkRunCancelled(ctx context.Context, tx *gorm.DB, runID uuid.UUID, reason enums.CadenceReason, now time.Time) (bool, error) {
	result := r.base.Tx(ctx, tx).
		Model(&models.CadenceRun{}).
		Where("id = ? AND status = ?", runID, enums.CadenceRunActive).
		Updates(map[string]any{
			"status":        enums.CadenceRunCancelled,
			"cancel_reason": reason,
			"cancelled_at":  now.UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

// CompleteRunIfDrained marks an active run completed once no scheduled or claimed events remain.
func (r *Repository) CompleteRunIfDrained(ctx context.Context, tx *gorm.DB, runID uuid.UUID, now time.Time) (bool, error) {
	pending := []string{string(enums.CadenceEventScheduled), string(enums.CadenceEventClaimed)}
	result := r.base.Tx(ctx, tx).
		Model(&models.CadenceRun{}).
		Where("id = ? AND status = ?", runID, enums.CadenceRunActive).
		Where("NOT EXISTS (SELECT 1 FROM cadence_events WHERE run_id = ? AND status IN ?)", runID, pending).
		Updates(map[string]any{
			"status":       enums.CadenceRunCompleted,
			"completed_at": now.UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

// ActiveRunsForContact lists active runs of the organization's proposals addressed to email.
// email must already be normalized.
func (r *Repository) ActiveRunsForContact(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, email string) ([]models.CadenceRun, error) {
	var runs []models.CadenceRun
	err := r.base.Tx(ctx, tx).
		Where("organization_id = ? AND status = ?", organizationID, enums.CadenceRunActive).
		Where("proposal_id IN (SELECT p.id FROM proposals p JOIN contacts c ON c.id = p.contact_id WHERE p.organization_id = ? AND lower(c.email) = ?)", organizationID, email).
		Find(&runs).Error
	return runs, err
}

// LoadTarget reads the run, proposal and contact behind an event.
func (r *Repository) LoadTarget(ctx context.Context, event models.CadenceEvent) (*Target, error) {
	db := r.base.DB(ctx)
	var target Target
	if err := db.Where("id = ?", event.RunID).Take(&target.Run).Error; err != nil {
		return nil, err
	}
	if err := db.Where("id = ?", event.ProposalID).Take(&target.Proposal).Error; err != nil {
		return nil, err
	}
	if err := db.Where("id = ?", target.Proposal.ContactID).Take(&target.Contact).Error; err != nil {
		return nil, err
	}
	return &target, nil
}

// FindExhaustedClaims lists claimed events past the lease that can no longer be reclaimed.
func (r *Repository) FindExhaustedClaims(ctx context.Context, leaseCutoff time.Time, maxAttempts, limit int) ([]models.CadenceEvent, error) {
	var events []models.CadenceEvent
	err := r.base.DB(ctx).
		Where("status = ? AND claimed_at < ? AND attempt_count >= ?", enums.CadenceEventClaimed, leaseCutoff.UTC(), maxAttempts).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// FailExhaustedClaim finalizes one exhausted claim, re-checking the predicate and token.
func (r *Repository) FailExhaustedClaim(ctx context.Context, tx *gorm.DB, event models.CadenceEvent, leaseCutoff time.Time, maxAttempts int, message string, now time.Time) (bool, error) {
	query := r.base.Tx(ctx, tx).
		Model(&models.CadenceEvent{}).
		Where("id = ? AND status = ? AND claimed_at < ? AND attempt_count >= ?", event.ID, enums.CadenceEventClaimed, leaseCutoff.UTC(), maxAttempts)
	if event.ClaimToken != nil {
		query = query.Where("claim_token = ?", *event.ClaimToken)
	}
	result := query.Updates(map[string]any{
		"status":       enums.CadenceEventFailedPermanent,
		"last_error":   message,
		"processed_at": now.UTC(),
	})
	return result.RowsAffected > 0, result.Error
}
