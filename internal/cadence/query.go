package cadence

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	pkgerrors "github.com/pitchtrail/pitchtrail-backend/pkg/errors"
)

// RunDetail is a run with its events in schedule order.
type RunDetail struct {
	Run    models.CadenceRun
	Events []models.CadenceEvent
}

// Reader serves read-only views of runs.
type Reader struct {
	repo *Repository
}

func NewReader(repo *Repository) (*Reader, error) {
	if repo == nil {
		return nil, errors.New("cadence repository required")
	}
	return &Reader{repo: repo}, nil
}

func (r *Reader) GetRun(ctx context.Context, runID uuid.UUID) (*RunDetail, error) {
	if runID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "run id required")
	}
	run, err := r.repo.GetRun(ctx, nil, runID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cadence run not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cadence run")
	}
	events, err := r.repo.ListEvents(ctx, runID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cadence events")
	}
	return &RunDetail{Run: *run, Events: events}, nil
}
