package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/api/responses"
	"github.com/pitchtrail/pitchtrail-backend/api/validators"
	"github.com/pitchtrail/pitchtrail-backend/internal/cadence"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

type RunStarter interface {
	StartRun(ctx context.Context, input cadence.StartRunInput) (cadence.StartRunResult, error)
}

type RunCanceller interface {
	CancelRun(ctx context.Context, runID uuid.UUID, reason enums.CadenceReason) (int64, error)
	CancelForProposal(ctx context.Context, proposalID uuid.UUID, reason enums.CadenceReason) (int64, error)
}

type RunReader interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*cadence.RunDetail, error)
}

type startCadenceRequest struct {
	OrganizationID uuid.UUID  `json:"organizationId" validate:"required"`
	FirstSentAt    *time.Time `json:"firstSentAt" validate:"required"`
}

type cancelCadenceRequest struct {
	Reason string `json:"reason" validate:"omitempty,oneof=manual proposal_engaged proposal_closed reply_received"`
}

type startCadenceResponse struct {
	RunID         uuid.UUID `json:"runId"`
	AlreadyExists bool      `json:"alreadyExists"`
}

type cancelResponse struct {
	Cancelled int64 `json:"cancelled"`
}

type runResponse struct {
	ID             uuid.UUID              `json:"id"`
	OrganizationID uuid.UUID              `json:"organizationId"`
	ProposalID     uuid.UUID              `json:"proposalId"`
	Status         enums.CadenceRunStatus `json:"status"`
	FirstSentAt    time.Time              `json:"firstSentAt"`
	CancelReason   *enums.CadenceReason   `json:"cancelReason,omitempty"`
	CancelledAt    *time.Time             `json:"cancelledAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	Events         []eventResponse        `json:"events"`
}

type eventResponse struct {
	ID           uuid.UUID                `json:"id"`
	Kind         enums.CadenceEventKind   `json:"kind"`
	Status       enums.CadenceEventStatus `json:"status"`
	ScheduledFor time.Time                `json:"scheduledFor"`
	AttemptCount int                      `json:"attemptCount"`
	ProcessedAt  *time.Time               `json:"processedAt,omitempty"`
	SkipReason   *enums.CadenceReason     `json:"skipReason,omitempty"`
	CancelReason *enums.CadenceReason     `json:"cancelReason,omitempty"`
	LastError    *string                  `json:"lastError,omitempty"`
}

// StartCadence materializes the follow-up run for a sent proposal. A repeat call returns
// the existing run with 200 instead of 201.
func StartCadence(svc RunStarter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proposalID, err := validators.URLParamUUID(r, "proposalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req startCadenceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithProposalID(logg.WithOrganizationID(r.Context(), req.OrganizationID.String()), proposalID.String())

		result, err := svc.StartRun(ctx, cadence.StartRunInput{
			OrganizationID: req.OrganizationID,
			ProposalID:     proposalID,
			FirstSentAt:    *req.FirstSentAt,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusCreated
		if result.AlreadyExists {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, startCadenceResponse{RunID: result.RunID, AlreadyExists: result.AlreadyExists})
	}
}

func CancelProposalCadence(svc RunCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proposalID, err := validators.URLParamUUID(r, "proposalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason, err := decodeCancelReason(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithProposalID(r.Context(), proposalID.String())
		cancelled, err := svc.CancelForProposal(ctx, proposalID, reason)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelResponse{Cancelled: cancelled})
	}
}

func CancelRun(svc RunCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.URLParamUUID(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason, err := decodeCancelReason(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithField(r.Context(), "run_id", runID.String())
		cancelled, err := svc.CancelRun(ctx, runID, reason)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelResponse{Cancelled: cancelled})
	}
}

func GetRun(svc RunReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.URLParamUUID(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.GetRun(r.Context(), runID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRunResponse(detail))
	}
}

// decodeCancelReason accepts an empty body as a manual cancel.
func decodeCancelReason(r *http.Request) (enums.CadenceReason, error) {
	if r.ContentLength == 0 {
		return enums.ReasonManual, nil
	}
	var req cancelCadenceRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		return "", err
	}
	if req.Reason == "" {
		return enums.ReasonManual, nil
	}
	return enums.CadenceReason(req.Reason), nil
}

func newRunResponse(detail *cadence.RunDetail) runResponse {
	run := detail.Run
	resp := runResponse{
		ID:             run.ID,
		OrganizationID: run.OrganizationID,
		ProposalID:     run.ProposalID,
		Status:         run.Status,
		FirstSentAt:    run.FirstSentAt,
		CancelReason:   run.CancelReason,
		CancelledAt:    run.CancelledAt,
		CompletedAt:    run.CompletedAt,
		Events:         make([]eventResponse, 0, len(detail.Events)),
	}
	for _, event := range detail.Events {
		resp.Events = append(resp.Events, newEventResponse(event))
	}
	return resp
}

func newEventResponse(event models.CadenceEvent) eventResponse {
	return eventResponse{
		ID:           event.ID,
		Kind:         event.Kind,
		Status:       event.Status,
		ScheduledFor: event.ScheduledFor,
		AttemptCount: event.AttemptCount,
		ProcessedAt:  event.ProcessedAt,
		SkipReason:   event.SkipReason,
		CancelReason: event.CancelReason,
		LastError:    event.LastError,
	}
}
