package cadence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db/dbtest"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	pkgerrors "github.com/pitchtrail/pitchtrail-backend/pkg/errors"
)

func TestStartRunMaterializesEvents(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	require.False(t, result.AlreadyExists)

	events, err := h.repo.ListEvents(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, step := range Schedule(firstSent) {
		assert.Equal(t, step.Kind, events[i].Kind)
		assert.True(t, step.ScheduledFor.Equal(events[i].ScheduledFor), "kind %s", step.Kind)
		assert.Equal(t, enums.CadenceEventScheduled, events[i].Status)
		assert.Equal(t, 0, events[i].AttemptCount)
	}

	run := h.run(t, result.RunID)
	assert.Equal(t, enums.CadenceRunActive, run.Status)
	assert.Equal(t, int64(1), h.outboxCount(t, enums.EventCadenceRunStarted))
}

func TestStartRunTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, 100)
	proposal, first := h.startRun(t, dbtest.ProposalFixture{})

	second, err := h.builder.StartRun(context.Background(), StartRunInput{
		OrganizationID: proposal.OrganizationID,
		ProposalID:     proposal.ID,
		FirstSentAt:    firstSent.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, second.AlreadyExists)
	assert.Equal(t, first.RunID, second.RunID)

	var runs, events int64
	require.NoError(t, h.conn.Model(&models.CadenceRun{}).Where("proposal_id = ?", proposal.ID).Count(&runs).Error)
	require.NoError(t, h.conn.Model(&models.CadenceEvent{}).Where("proposal_id = ?", proposal.ID).Count(&events).Error)
	assert.Equal(t, int64(1), runs)
	assert.Equal(t, int64(4), events)
	assert.Equal(t, int64(1), h.outboxCount(t, enums.EventCadenceRunStarted))
}

func TestStartRunAfterCancellationStartsFresh(t *testing.T) {
	h := newHarness(t, 100)
	proposal, first := h.startRun(t, dbtest.ProposalFixture{})

	_, err := h.canceller.CancelRun(context.Background(), first.RunID, enums.ReasonManual)
	require.NoError(t, err)

	second, err := h.builder.StartRun(context.Background(), StartRunInput{
		OrganizationID: proposal.OrganizationID,
		ProposalID:     proposal.ID,
		FirstSentAt:    firstSent.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, second.AlreadyExists)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestStartRunValidation(t *testing.T) {
	h := newHarness(t, 100)
	proposal, _ := dbtest.SeedProposal(t, h.conn, dbtest.ProposalFixture{})
	ctx := context.Background()

	cases := map[string]struct {
		input StartRunInput
		code  pkgerrors.Code
	}{
		"missing organization": {
			input: StartRunInput{ProposalID: proposal.ID, FirstSentAt: firstSent},
			code:  pkgerrors.CodeValidation,
		},
		"missing proposal": {
			input: StartRunInput{OrganizationID: proposal.OrganizationID, FirstSentAt: firstSent},
			code:  pkgerrors.CodeValidation,
		},
		"missing first sent": {
			input: StartRunInput{OrganizationID: proposal.OrganizationID, ProposalID: proposal.ID},
			code:  pkgerrors.CodeValidation,
		},
		"foreign organization": {
			input: StartRunInput{OrganizationID: uuid.New(), ProposalID: proposal.ID, FirstSentAt: firstSent},
			code:  pkgerrors.CodeValidation,
		},
		"unknown proposal": {
			input: StartRunInput{OrganizationID: proposal.OrganizationID, ProposalID: uuid.New(), FirstSentAt: firstSent},
			code:  pkgerrors.CodeNotFound,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.builder.StartRun(ctx, tc.input)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, tc.code, typed.Code())
		})
	}
}
