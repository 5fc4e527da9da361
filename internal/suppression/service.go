package suppression

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	pkgerrors "github.com/pitchtrail/pitchtrail-backend/pkg/errors"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox/payloads"
)

// RunCanceller cancels pending follow-ups addressed to a contact inside the opt-out transaction.
type RunCanceller interface {
	CancelForContactTx(ctx context.Context, tx *gorm.DB, organizationID uuid.UUID, email string, reason enums.CadenceReason) (int64, error)
}

type ServiceParams struct {
	TxRunner  db.TxRunner
	Repo      *Repository
	Canceller RunCanceller
	Outbox    outbox.Emitter
	Logger    *logger.Logger
	Now       func() time.Time
}

type OptOutInput struct {
	OrganizationID uuid.UUID
	Email          string
	Reason         enums.SuppressionReason
	Source         string
}

type OptOutResult struct {
	EntryID   uuid.UUID `json:"entryId"`
	Cancelled int64     `json:"cancelled"`
}

// Service guards outreach against opted-out recipients.
type Service struct {
	tx        db.TxRunner
	repo      *Repository
	canceller RunCanceller
	outbox    outbox.Emitter
	logg      *logger.Logger
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TxRunner == nil {
		return nil, errors.New("tx runner required")
	}
	if params.Repo == nil {
		return nil, errors.New("suppression repository required")
	}
	if params.Canceller == nil {
		return nil, errors.New("run canceller required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:        params.TxRunner,
		repo:      params.Repo,
		canceller: params.Canceller,
		outbox:    params.Outbox,
		logg:      params.Logger,
		validate:  validator.New(),
		now:       now,
	}, nil
}

// NormalizeEmail is the canonical form stored and compared.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsSuppressed is a pure read.
func (s *Service) IsSuppressed(ctx context.Context, organizationID uuid.UUID, email string) (bool, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return false, nil
	}
	return s.repo.Exists(ctx, organizationID, normalized)
}

// ApplyOptOut records the opt-out and cancels scheduled follow-ups to that address in one
// transaction. Claimed and already resolved events are left alone.
func (s *Service) ApplyOptOut(ctx context.Context, input OptOutInput) (OptOutResult, error) {
	if input.OrganizationID == uuid.Nil {
		return OptOutResult{}, pkgerrors.New(pkgerrors.CodeValidation, "organization id required")
	}
	email := NormalizeEmail(input.Email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return OptOutResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "valid email required")
	}
	if input.Reason == "" {
		input.Reason = enums.SuppressionReasonUnsubscribe
	}
	if !input.Reason.IsValid() {
		return OptOutResult{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid opt-out reason")
	}

	now := s.now().UTC()
	var result OptOutResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		entry := models.SuppressionEntry{
			OrganizationID: input.OrganizationID,
			Email:          email,
			Reason:         input.Reason,
			Source:         input.Source,
		}
		if err := s.repo.Upsert(ctx, tx, &entry, now); err != nil {
			return err
		}
		stored, err := s.repo.Get(ctx, tx, input.OrganizationID, email)
		if err != nil {
			return err
		}
		if stored == nil {
			return errors.New("suppression entry missing after upsert")
		}

		cancelled, err := s.canceller.CancelForContactTx(ctx, tx, input.OrganizationID, email, enums.ReasonSuppressed)
		if err != nil {
			return err
		}

		result = OptOutResult{EntryID: stored.ID, Cancelled: cancelled}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventContactOptedOut,
			AggregateType: enums.AggregateContact,
			AggregateID:   stored.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorKindSystem},
			OccurredAt:    now,
			Data: payloads.ContactOptedOutEvent{
				OrganizationID: input.OrganizationID,
				Email:          email,
				Reason:         input.Reason,
				Source:         input.Source,
				Cancelled:      cancelled,
			},
		})
	})
	if err != nil {
		return OptOutResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply opt-out")
	}

	logCtx := s.logg.WithFields(s.logg.WithOrganizationID(ctx, input.OrganizationID.String()), map[string]any{
		"email":     logger.RedactEmail(email),
		"reason":    input.Reason,
		"cancelled": result.Cancelled,
	})
	s.logg.Info(logCtx, "opt-out applied")
	return result, nil
}
