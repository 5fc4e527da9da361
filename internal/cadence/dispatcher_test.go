package cadence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchtrail/pitchtrail-backend/internal/transport"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/dbtest"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	"github.com/pitchtrail/pitchtrail-backend/pkg/metrics"
)

func TestFindDueHonorsSchedule(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	ctx := context.Background()

	due, err := h.dispatcher.FindDue(ctx, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = h.dispatcher.FindDue(ctx, time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1).ID, due[0])
}

// The sqlite harness holds a single connection, so the claimers run one statement at a
// time. This checks the guard on the UPDATE; repository_sql_test.go pins the statement.
func TestConcurrentClaimHasOneWinner(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	event := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	now := time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			claimed, err := h.dispatcher.Claim(context.Background(), event.ID, worker, now)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrAlreadyClaimed) {
				conflicts++
				return
			}
			if assert.NoError(t, err) {
				winners = append(winners, *claimed.Event.ClaimedBy)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, workers-1, conflicts)

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	assert.Equal(t, enums.CadenceEventClaimed, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, winners[0], *stored.ClaimedBy)
}

func TestStaleClaimIsReclaimable(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	event := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	ctx := context.Background()

	claimedAt := time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC)
	first, err := h.dispatcher.Claim(ctx, event.ID, "worker-a", claimedAt)
	require.NoError(t, err)

	_, err = h.dispatcher.Claim(ctx, event.ID, "worker-b", claimedAt.Add(5*time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	second, err := h.dispatcher.Claim(ctx, event.ID, "worker-b", claimedAt.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Event.AttemptCount)
	assert.NotEqual(t, first.Token, second.Token)

	h.clock.Set(claimedAt.Add(12 * time.Minute))
	outcome, err := h.dispatcher.Dispatch(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeLeaseLost, outcome)
	assert.Equal(t, enums.CadenceEventClaimed, h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1).Status)
}

func TestResolveWithStaleTokenLosesLease(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	h.clock.Set(time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC))
	claimed := h.claimKind(t, result.RunID, enums.CadenceKindEmailD1)

	err := h.repo.Resolve(context.Background(), nil, claimed.Event.ID, claimed.Event.RunID, Resolution{
		Status:      enums.CadenceEventSent,
		ProcessedAt: h.clock.Now(),
	})
	assert.ErrorIs(t, err, ErrLeaseLost)
}

func TestDispatchSendsAndCountsUsage(t *testing.T) {
	h := newHarness(t, 100)
	proposal, result := h.startRun(t, dbtest.ProposalFixture{FirstName: "Dana"})
	h.clock.Set(time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC))
	claimed := h.claimKind(t, result.RunID, enums.CadenceKindEmailD1)

	outcome, err := h.dispatcher.Dispatch(context.Background(), claimed)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeSent, outcome)

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	assert.Equal(t, enums.CadenceEventSent, stored.Status)
	require.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, int64(1), h.sentCount(t, proposal.OrganizationID))
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "Dana", h.transport.sent[0].Contact.FirstName)
	assert.Equal(t, int64(1), h.outboxCount(t, enums.EventCadenceEventResolved))
}

func TestDispatchSkipsSuppressedAndCancelsRun(t *testing.T) {
	h := newHarness(t, 100)
	proposal, result := h.startRun(t, dbtest.ProposalFixture{Email: "buyer@example.com"})
	h.suppressed.emails["buyer@example.com"] = true
	h.clock.Set(time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC))
	claimed := h.claimKind(t, result.RunID, enums.CadenceKindEmailD1)

	outcome, err := h.dispatcher.Dispatch(context.Background(), claimed)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeSkipped, outcome)
	assert.Zero(t, h.transport.Calls())

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	assert.Equal(t, enums.CadenceEventSkipped, stored.Status)
	require.NotNil(t, stored.SkipReason)
	assert.Equal(t, enums.ReasonSuppressed, *stored.SkipReason)
	assert.Equal(t, int64(0), h.sentCount(t, proposal.OrganizationID))

	run := h.run(t, result.RunID)
	assert.Equal(t, enums.CadenceRunCancelled, run.Status)
	var remaining int64
	require.NoError(t, h.conn.Model(&models.CadenceEvent{}).
		Where("run_id = ? AND status = ?", result.RunID, enums.CadenceEventScheduled).
		Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestDispatchSkipsWhenQuotaExhausted(t *testing.T) {
	h := newHarness(t, 1)
	proposal, result := h.startRun(t, dbtest.ProposalFixture{})
	ctx := context.Background()

	h.clock.Set(time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC))
	outcome, err := h.dispatcher.Dispatch(ctx, h.claimKind(t, result.RunID, enums.CadenceKindEmailD1))
	require.NoError(t, err)
	require.Equal(t, metrics.OutcomeSent, outcome)

	h.clock.Set(time.Date(2025, 1, 4, 11, 0, 0, 0, time.UTC))
	outcome, err = h.dispatcher.Dispatch(ctx, h.claimKind(t, result.RunID, enums.CadenceKindEmailD3))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeSkipped, outcome)

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD3)
	assert.Equal(t, enums.CadenceEventSkipped, stored.Status)
	require.NotNil(t, stored.SkipReason)
	assert.Equal(t, enums.ReasonQuotaExceeded, *stored.SkipReason)
	assert.Equal(t, int64(1), h.sentCount(t, proposal.OrganizationID))
	assert.Equal(t, 1, h.transport.Calls())
	assert.Equal(t, enums.CadenceRunActive, h.run(t, result.RunID).Status)
}

func TestDispatchSkipsClosedProposal(t *testing.T) {
	h := newHarness(t, 100)
	proposal, result := h.startRun(t, dbtest.ProposalFixture{})
	require.NoError(t, h.conn.Model(&models.Proposal{}).Where("id = ?", proposal.ID).
		Update("status", enums.ProposalStatusWon).Error)

	h.clock.Set(time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC))
	outcome, err := h.dispatcher.Dispatch(context.Background(), h.claimKind(t, result.RunID, enums.CadenceKindEmailD1))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeSkipped, outcome)
	assert.Zero(t, h.transport.Calls())

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	require.NotNil(t, stored.SkipReason)
	assert.Equal(t, enums.ReasonProposalClosed, *stored.SkipReason)

	run := h.run(t, result.RunID)
	assert.Equal(t, enums.CadenceRunCancelled, run.Status)
	require.NotNil(t, run.CancelReason)
	assert.Equal(t, enums.ReasonProposalClosed, *run.CancelReason)
}

func TestDispatchRetriesTransientThenFailsPermanently(t *testing.T) {
	h := newHarness(t, 100)
	proposal, result := h.startRun(t, dbtest.ProposalFixture{})
	ctx := context.Background()
	h.transport.errs = []error{
		transport.Transient(errors.New("throttled")),
		transport.Transient(errors.New("throttled")),
		transport.Transient(errors.New("throttled")),
	}

	claimAt := time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC)
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		h.clock.Set(claimAt)
		claimed := h.claimKind(t, result.RunID, enums.CadenceKindEmailD1)
		require.Equal(t, attempt, claimed.Event.AttemptCount)

		outcome, err := h.dispatcher.Dispatch(ctx, claimed)
		require.NoError(t, err)
		if attempt < h.cfg.MaxAttempts {
			assert.Equal(t, metrics.OutcomeRetry, outcome)
			stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
			assert.Equal(t, enums.CadenceEventClaimed, stored.Status)
			require.NotNil(t, stored.LastError)
			assert.Contains(t, *stored.LastError, "throttled")
		} else {
			assert.Equal(t, metrics.OutcomeFailedPermanent, outcome)
		}
		claimAt = claimAt.Add(h.cfg.LeaseTimeout + time.Minute)
	}

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	assert.Equal(t, enums.CadenceEventFailedPermanent, stored.Status)
	assert.Equal(t, h.cfg.MaxAttempts, stored.AttemptCount)
	assert.Equal(t, int64(0), h.sentCount(t, proposal.OrganizationID))

	due, err := h.dispatcher.FindDue(ctx, claimAt, 0)
	require.NoError(t, err)
	assert.NotContains(t, due, stored.ID)
}

func TestDispatchPermanentErrorFailsImmediately(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	h.transport.errs = []error{transport.Permanent(errors.New("mailbox does not exist"))}

	h.clock.Set(time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC))
	outcome, err := h.dispatcher.Dispatch(context.Background(), h.claimKind(t, result.RunID, enums.CadenceKindEmailD1))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeFailedPermanent, outcome)

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	assert.Equal(t, enums.CadenceEventFailedPermanent, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "mailbox does not exist")
}

func TestDispatchStoresLongMultiByteErrorAsValidText(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	h.transport.errs = []error{transport.Permanent(errors.New("x" + strings.Repeat("é", 600)))}

	h.clock.Set(time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC))
	outcome, err := h.dispatcher.Dispatch(context.Background(), h.claimKind(t, result.RunID, enums.CadenceKindEmailD1))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeFailedPermanent, outcome)

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	assert.Equal(t, enums.CadenceEventFailedPermanent, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.LessOrEqual(t, len(*stored.LastError), maxErrorLength)
	assert.True(t, utf8.ValidString(*stored.LastError))
}

func TestRunCompletesWhenAllEventsResolve(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	ctx := context.Background()

	for _, step := range Schedule(firstSent) {
		h.clock.Set(step.ScheduledFor.Add(time.Minute))
		assert.Equal(t, enums.CadenceRunActive, h.run(t, result.RunID).Status)
		outcome, err := h.dispatcher.Dispatch(ctx, h.claimKind(t, result.RunID, step.Kind))
		require.NoError(t, err)
		require.Equal(t, metrics.OutcomeSent, outcome)
	}

	run := h.run(t, result.RunID)
	assert.Equal(t, enums.CadenceRunCompleted, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Len(t, h.transport.sent, 4)
}

func TestTickDispatchesDueEvents(t *testing.T) {
	h := newHarness(t, 100)
	for i := 0; i < 3; i++ {
		h.startRun(t, dbtest.ProposalFixture{})
	}

	h.clock.Set(time.Date(2025, 1, 4, 11, 0, 0, 0, time.UTC))
	result, err := h.dispatcher.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.Due)
	assert.Equal(t, 6, result.Claimed)
	assert.Zero(t, result.Conflicts)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 6, h.transport.Calls())

	again, err := h.dispatcher.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Due)
}

func TestLeaseSweeperFailsExhaustedClaims(t *testing.T) {
	h := newHarness(t, 100)
	_, result := h.startRun(t, dbtest.ProposalFixture{})
	event := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	claimedAt := time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC)
	require.NoError(t, h.conn.Model(&models.CadenceEvent{}).Where("id = ?", event.ID).Updates(map[string]any{
		"status":        enums.CadenceEventClaimed,
		"claimed_at":    claimedAt,
		"claimed_by":    "crashed-worker",
		"attempt_count": h.cfg.MaxAttempts,
	}).Error)

	h.clock.Set(claimedAt.Add(5 * time.Minute))
	failed, err := h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)

	h.clock.Set(claimedAt.Add(h.cfg.LeaseTimeout + time.Minute))
	failed, err = h.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	stored := h.eventByKind(t, result.RunID, enums.CadenceKindEmailD1)
	assert.Equal(t, enums.CadenceEventFailedPermanent, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, leaseExhaustedMessage, *stored.LastError)
}
