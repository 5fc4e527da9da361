package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/api/responses"
	"github.com/pitchtrail/pitchtrail-backend/api/validators"
	"github.com/pitchtrail/pitchtrail-backend/internal/suppression"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

const optOutSourceAPI = "api"

type OptOutApplier interface {
	ApplyOptOut(ctx context.Context, input suppression.OptOutInput) (suppression.OptOutResult, error)
}

type optOutRequest struct {
	OrganizationID uuid.UUID `json:"organizationId" validate:"required"`
	Email          string    `json:"email" validate:"required,email,max=320"`
	Reason         string    `json:"reason" validate:"omitempty,oneof=unsubscribe complaint hard_bounce manual"`
}

// CreateOptOut suppresses an address for the organization and cancels its pending follow-ups.
func CreateOptOut(svc OptOutApplier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req optOutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithOrganizationID(r.Context(), req.OrganizationID.String())
		result, err := svc.ApplyOptOut(ctx, suppression.OptOutInput{
			OrganizationID: req.OrganizationID,
			Email:          req.Email,
			Reason:         enums.SuppressionReason(req.Reason),
			Source:         optOutSourceAPI,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
