package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/api/responses"
	"github.com/pitchtrail/pitchtrail-backend/api/validators"
	"github.com/pitchtrail/pitchtrail-backend/internal/quota"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

type QuotaChecker interface {
	CanSend(ctx context.Context, organizationID uuid.UUID) (quota.Decision, error)
}

type quotaResponse struct {
	quota.Decision
	Remaining int64 `json:"remaining"`
}

func OrganizationQuota(svc QuotaChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := validators.URLParamUUID(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithOrganizationID(r.Context(), orgID.String())
		decision, err := svc.CanSend(ctx, orgID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, quotaResponse{Decision: decision, Remaining: decision.Remaining()})
	}
}
