package cadence

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/internal/quota"
	"github.com/pitchtrail/pitchtrail-backend/internal/transport"
	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/dbtest"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/metrics"
	"github.com/pitchtrail/pitchtrail-backend/pkg/outbox"
)

var firstSent = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeTransport struct {
	mu    sync.Mutex
	errs  []error
	sent  []transport.Delivery
	calls int
}

func (f *fakeTransport) Send(_ context.Context, delivery transport.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, delivery)
	return nil
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSuppression struct {
	emails map[string]bool
}

func (f *fakeSuppression) IsSuppressed(_ context.Context, _ uuid.UUID, email string) (bool, error) {
	return f.emails[email], nil
}

type harness struct {
	conn       *gorm.DB
	client     *db.Client
	clock      *clock
	repo       *Repository
	builder    *Builder
	canceller  *Canceller
	dispatcher *Dispatcher
	sweeper    *LeaseSweeper
	quota      *quota.Service
	transport  *fakeTransport
	suppressed *fakeSuppression
	cfg        config.CadenceConfig
}

func newHarness(t *testing.T, monthlyLimit int) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	client := db.Wrap(conn)
	clk := &clock{now: firstSent}
	logg := logger.New(logger.Options{ServiceName: "cadence-test", Output: io.Discard})
	cadenceMetrics := metrics.NewCadenceMetrics(prometheus.NewRegistry())
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	repo := NewRepository(conn)
	cfg := config.CadenceConfig{
		LeaseTimeout:     10 * time.Minute,
		MaxAttempts:      3,
		BatchSize:        50,
		Concurrency:      4,
		TransportTimeout: time.Second,
	}

	quotaSvc, err := quota.NewService(quota.ServiceParams{
		Repo:                quota.NewRepository(conn),
		DefaultMonthlyLimit: monthlyLimit,
		Now:                 clk.Now,
	})
	require.NoError(t, err)

	builder, err := NewBuilder(BuilderParams{
		TxRunner: client,
		Repo:     repo,
		Outbox:   emitter,
		Metrics:  cadenceMetrics,
		Logger:   logg,
	})
	require.NoError(t, err)

	canceller, err := NewCanceller(CancellerParams{
		TxRunner: client,
		Repo:     repo,
		Outbox:   emitter,
		Metrics:  cadenceMetrics,
		Logger:   logg,
		Now:      clk.Now,
	})
	require.NoError(t, err)

	fakeTx := &fakeTransport{}
	suppressed := &fakeSuppression{emails: map[string]bool{}}
	dispatcher, err := NewDispatcher(DispatcherParams{
		TxRunner:    client,
		Repo:        repo,
		Canceller:   canceller,
		Suppression: suppressed,
		Quota:       quotaSvc,
		Transport:   fakeTx,
		Outbox:      emitter,
		Metrics:     cadenceMetrics,
		Logger:      logg,
		Config:      cfg,
		WorkerID:    "worker-a",
		Now:         clk.Now,
	})
	require.NoError(t, err)

	sweeper, err := NewLeaseSweeper(LeaseSweeperParams{
		TxRunner: client,
		Repo:     repo,
		Outbox:   emitter,
		Metrics:  cadenceMetrics,
		Logger:   logg,
		Config:   cfg,
		Now:      clk.Now,
	})
	require.NoError(t, err)

	return &harness{
		conn:       conn,
		client:     client,
		clock:      clk,
		repo:       repo,
		builder:    builder,
		canceller:  canceller,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		quota:      quotaSvc,
		transport:  fakeTx,
		suppressed: suppressed,
		cfg:        cfg,
	}
}

// startRun seeds a sent proposal and materializes its run at firstSent.
func (h *harness) startRun(t *testing.T, fx dbtest.ProposalFixture) (models.Proposal, StartRunResult) {
	t.Helper()
	proposal, _ := dbtest.SeedProposal(t, h.conn, fx)
	result, err := h.builder.StartRun(context.Background(), StartRunInput{
		OrganizationID: proposal.OrganizationID,
		ProposalID:     proposal.ID,
		FirstSentAt:    firstSent,
	})
	require.NoError(t, err)
	return proposal, result
}

func (h *harness) eventByKind(t *testing.T, runID uuid.UUID, kind enums.CadenceEventKind) models.CadenceEvent {
	t.Helper()
	var event models.CadenceEvent
	require.NoError(t, h.conn.Where("run_id = ? AND kind = ?", runID, kind).Take(&event).Error)
	return event
}

func (h *harness) run(t *testing.T, runID uuid.UUID) models.CadenceRun {
	t.Helper()
	var run models.CadenceRun
	require.NoError(t, h.conn.Where("id = ?", runID).Take(&run).Error)
	return run
}

func (h *harness) claimKind(t *testing.T, runID uuid.UUID, kind enums.CadenceEventKind) *ClaimedEvent {
	t.Helper()
	event := h.eventByKind(t, runID, kind)
	claimed, err := h.dispatcher.Claim(context.Background(), event.ID, "worker-a", h.clock.Now())
	require.NoError(t, err)
	return claimed
}

func (h *harness) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func (h *harness) sentCount(t *testing.T, orgID uuid.UUID) int64 {
	t.Helper()
	var counter models.UsageCounter
	err := h.conn.Where("organization_id = ?", orgID).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0
	}
	require.NoError(t, err)
	return counter.SentCount
}
